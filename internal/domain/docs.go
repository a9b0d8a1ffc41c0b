package domain

// DocsBundle is the static documentation bundle: onboarding instructions,
// tool descriptions and schemas, advisory warning rules and resource docs.
// It is loaded once at startup and treated as read-only afterwards.
type DocsBundle struct {
	Initialize   map[string]interface{}   `json:"initialize,omitempty" yaml:"initialize,omitempty"`
	Tools        map[string]ToolDoc       `json:"tools,omitempty" yaml:"tools,omitempty"`
	ToolWarnings map[string][]WarningRule `json:"toolWarnings,omitempty" yaml:"toolWarnings,omitempty"`
	Resources    map[string]ResourceDoc   `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ToolDoc overrides the built-in description and input schema of a tool.
type ToolDoc struct {
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// ResourceDoc overrides a resource descriptor. Name and Description may sit
// at the top level or inside a nested Descriptor; the nested one wins.
// Scenarios and Rules are only used by the leads guide.
type ResourceDoc struct {
	Name        string                   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Descriptor  *ResourceDoc             `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
	Scenarios   []map[string]interface{} `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Rules       []interface{}            `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// DescriptorSource returns the doc block that carries name and description.
func (d ResourceDoc) DescriptorSource() ResourceDoc {
	if d.Descriptor != nil {
		return *d.Descriptor
	}
	return d
}

// Warning check kinds.
const (
	CheckRequireDateRange = "require_date_range"
)

// WarningRule is a declarative advisory check attached to a tool.
type WarningRule struct {
	Check            string                 `json:"check" yaml:"check"`
	Fields           []string               `json:"fields,omitempty" yaml:"fields,omitempty"`
	Message          string                 `json:"message" yaml:"message"`
	Suggestion       string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	SuggestionField  string                 `json:"suggestion_field,omitempty" yaml:"suggestion_field,omitempty"`
	SuggestionFormat string                 `json:"suggestion_format,omitempty" yaml:"suggestion_format,omitempty"`
	SuggestedFilters map[string]interface{} `json:"suggested_filters,omitempty" yaml:"suggested_filters,omitempty"`
	SemanticField    string                 `json:"semantic_field,omitempty" yaml:"semantic_field,omitempty"`
	SemanticValue    string                 `json:"semantic_value,omitempty" yaml:"semantic_value,omitempty"`
}

// RulesFor returns the warning rules configured for tool, or nil.
func (b *DocsBundle) RulesFor(tool string) []WarningRule {
	if b == nil {
		return nil
	}
	return b.ToolWarnings[tool]
}

// ToolDocFor returns the doc override for tool, if any.
func (b *DocsBundle) ToolDocFor(tool string) (ToolDoc, bool) {
	if b == nil {
		return ToolDoc{}, false
	}
	doc, ok := b.Tools[tool]
	return doc, ok
}

// ResourceDocFor returns the doc override for uri, if any.
func (b *DocsBundle) ResourceDocFor(uri string) (ResourceDoc, bool) {
	if b == nil {
		return ResourceDoc{}, false
	}
	doc, ok := b.Resources[uri]
	return doc, ok
}
