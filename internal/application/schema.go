package application

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"bitrix24-mcp-server/internal/domain"
)

// listSchema is the input schema shared by the list tools. extra adds
// tool-specific properties or replaces default ones.
func listSchema(extra map[string]interface{}) map[string]interface{} {
	properties := map[string]interface{}{
		"select": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Field codes to return instead of the default set.",
			"examples":    []interface{}{[]interface{}{"ID", "TITLE", "DATE_CREATE"}},
		},
		"filter": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": true,
			"description": "Bitrix filters of the form `<operator><FIELD>` -> value. Operators: `=` `>` `<` `>=` `<=` `@` (IN). " +
				"Example: `{\"=STATUS_ID\": \"NEW\", \">DATE_CREATE\": \"2024-01-01\"}`.",
			"examples": []interface{}{
				map[string]interface{}{"=STATUS_ID": "NEW"},
				map[string]interface{}{">DATE_CREATE": "2024-01-01"},
				map[string]interface{}{"@ASSIGNED_BY_ID": []interface{}{"123", "456"}},
			},
		},
		"order": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": true,
			"description":          "Sort order: field code -> direction (`ASC` or `DESC`).",
			"examples": []interface{}{
				map[string]interface{}{"DATE_CREATE": "DESC"},
			},
		},
		"start": map[string]interface{}{
			"type":        "integer",
			"minimum":     0,
			"description": "Pagination offset. Pass `next` from the previous response.",
		},
		"limit": map[string]interface{}{
			"type":        "integer",
			"minimum":     1,
			"description": "Maximum number of records to return. Bitrix24 usually caps pages at 50.",
		},
	}
	for k, v := range extra {
		properties[k] = v
	}

	return map[string]interface{}{
		"type":                 "object",
		"description":          "Bitrix24 list method parameters: field selection, filters and pagination.",
		"additionalProperties": false,
		"properties":           properties,
		"required":             []interface{}{},
	}
}

func semanticsProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        []interface{}{"string", "array"},
		"items":       map[string]interface{}{"type": "string"},
		"description": description,
	}
}

// defaultSchemas are the built-in input schemas, by tool name.
func defaultSchemas() map[string]map[string]interface{} {
	semantics := "Semantic group to keep: P (in progress), S (successful) or F (failed)."
	return map[string]map[string]interface{}{
		ToolGetDeals: listSchema(map[string]interface{}{
			"stageSemantics": semanticsProperty(semantics),
		}),
		ToolGetLeads: listSchema(map[string]interface{}{
			"statusSemantics": semanticsProperty(semantics),
			"groupSemantics":  semanticsProperty(semantics),
			// Untyped so that unusable values reach the handler and are dropped there
			"limit": map[string]interface{}{
				"description": fmt.Sprintf("Maximum number of leads to return, capped at %d. Values that are not numbers are ignored.", leadLimitCap),
			},
		}),
		ToolGetContacts:  listSchema(nil),
		ToolGetCompanies: listSchema(nil),
		ToolGetUsers:     listSchema(nil),
		ToolGetTasks:     listSchema(nil),
		ToolGetCompany: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type":        []interface{}{"integer", "string"},
					"description": "Company ID.",
				},
				"select": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Fields to keep in the answer.",
				},
				"fields": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Alias of select.",
				},
			},
			"required": []interface{}{"id"},
		},
		ToolGetLeadCalls: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"ownerId": map[string]interface{}{
					"type":        []interface{}{"integer", "string"},
					"description": "Lead ID whose calls are listed.",
				},
				"ownerTypeId": map[string]interface{}{
					"type":        "integer",
					"description": "CRM owner type. 1 is a lead.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum number of activities to expand.",
				},
			},
			"required": []interface{}{"ownerId"},
		},
		ToolCallBitrixMethod: {
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]interface{}{
				"method": map[string]interface{}{
					"type":        "string",
					"minLength":   1,
					"description": "REST method name, for example crm.deal.fields.",
				},
				"params": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": true,
					"description":          "Payload passed to the method as is.",
				},
			},
			"required": []interface{}{"method"},
		},
	}
}

// argumentValidator checks tool arguments against a compiled input schema.
type argumentValidator struct {
	schema *jsonschema.Schema
}

// compileSchema compiles a tool input schema. The schema is normalised
// through encoding/json first so number types match decoded arguments.
func compileSchema(tool string, schema map[string]interface{}) (*argumentValidator, error) {
	doc, err := normalizeJSON(schema)
	if err != nil {
		return nil, fmt.Errorf("input schema of %s: %w", tool, err)
	}

	url := tool + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("input schema of %s: %w", tool, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("input schema of %s: %w", tool, err)
	}
	return &argumentValidator{schema: compiled}, nil
}

// Validate returns a ValidationError when arguments do not match the schema.
func (v *argumentValidator) Validate(tool string, arguments map[string]interface{}) error {
	if v == nil {
		return nil
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	doc, err := normalizeJSON(arguments)
	if err != nil {
		return domain.NewValidationError("arguments of %s are not valid JSON: %v", tool, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return domain.NewValidationError("invalid arguments for %s: %v", tool, err)
	}
	return nil
}

func normalizeJSON(value interface{}) (interface{}, error) {
	blob, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
