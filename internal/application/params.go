package application

import (
	"strconv"
	"strings"

	"bitrix24-mcp-server/internal/domain"
)

// getStringParam extracts a string parameter from the arguments map.
// Returns an error if the parameter is required but missing or not a string.
func getStringParam(args map[string]interface{}, name string, required bool) (string, error) {
	value, exists := args[name]
	if !exists || value == nil {
		if required {
			return "", domain.NewValidationError("missing required parameter: %s", name)
		}
		return "", nil
	}

	strValue, ok := value.(string)
	if !ok {
		return "", domain.NewValidationError("parameter %s must be a string", name)
	}
	if required && strings.TrimSpace(strValue) == "" {
		return "", domain.NewValidationError("missing required parameter: %s", name)
	}

	return strValue, nil
}

// getIntParam extracts an integer parameter from the arguments map.
// Numeric strings are accepted since CRM identifiers often arrive quoted.
func getIntParam(args map[string]interface{}, name string, required bool) (int, bool, error) {
	value, exists := args[name]
	if !exists || value == nil {
		if required {
			return 0, false, domain.NewValidationError("missing required parameter: %s", name)
		}
		return 0, false, nil
	}

	n, ok := toInt(value)
	if !ok {
		return 0, false, domain.NewValidationError("parameter %s must be an integer", name)
	}
	return n, true, nil
}

// getMapParam extracts an object parameter. A missing parameter yields nil.
func getMapParam(args map[string]interface{}, name string) (map[string]interface{}, error) {
	value, exists := args[name]
	if !exists || value == nil {
		return nil, nil
	}
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, domain.NewValidationError("parameter %s must be an object", name)
	}
	return m, nil
}

// getStringListParam extracts a list of strings. A single string is
// treated as a one-element list.
func getStringListParam(args map[string]interface{}, name string) ([]string, error) {
	value, exists := args[name]
	if !exists || value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, domain.NewValidationError("parameter %s must be a list of strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, domain.NewValidationError("parameter %s must be a list of strings", name)
	}
}

// toInt converts JSON numbers and numeric strings to int.
func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// idValue sends numeric identifiers as integers and anything else as is.
func idValue(value interface{}) interface{} {
	if n, ok := toInt(value); ok {
		return n
	}
	return value
}
