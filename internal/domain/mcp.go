package domain

// ProviderBitrix24 is the provider tag carried in every response metadata block.
const ProviderBitrix24 = "bitrix24"

// Metadata identifies the origin of a response.
type Metadata struct {
	Provider     string `json:"provider"`
	Resource     string `json:"resource,omitempty"`
	Tool         string `json:"tool,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
}

// ResourceDescriptor describes a queryable collection.
// Descriptors are built once at startup and never change afterwards.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolDescriptor describes an invocable tool and the JSON schema of its arguments.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// QueryRequest is a resource query. Cursor is nil unless the caller is paging.
type QueryRequest struct {
	Resource string                 `json:"resource"`
	Params   map[string]interface{} `json:"params"`
	Cursor   *string                `json:"cursor,omitempty"`
}

// QueryResponse is the uniform paginated answer of every resource.
type QueryResponse struct {
	Metadata   Metadata                 `json:"metadata"`
	Data       []map[string]interface{} `json:"data"`
	NextCursor *string                  `json:"next_cursor,omitempty"`
	Total      *int                     `json:"total,omitempty"`
}

// ToolRequest represents an MCP tool call request.
// This is the request format when a client invokes a tool.
type ToolRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Advisory is a non-fatal notice attached to an otherwise successful tool call,
// such as a list query without a date bound.
type Advisory struct {
	Message          string                 `json:"message"`
	Suggestion       string                 `json:"suggestion,omitempty"`
	SuggestedFilters map[string]interface{} `json:"suggestedFilters,omitempty"`
}

// ToolResponse is the envelope returned by every tool call.
// HasAdvisories is true iff Warnings is non-empty. IsError mirrors it so
// MCP clients that only understand CallToolResult still notice the advisory.
type ToolResponse struct {
	Metadata          Metadata               `json:"metadata"`
	Result            interface{}            `json:"result"`
	StructuredContent map[string]interface{} `json:"structuredContent"`
	Content           []ContentBlock         `json:"content"`
	Warnings          []string               `json:"warnings,omitempty"`
	IsError           bool                   `json:"isError"`
	HasAdvisories     bool                   `json:"hasAdvisories"`
}

// ContentBlock represents a piece of content in the response.
// MCP supports different content types (text, resource, etc.).
type ContentBlock struct {
	Type     string    `json:"type"` // "text", "resource", etc.
	Text     string    `json:"text,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

// Resource represents a resource reference in MCP.
type Resource struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}
