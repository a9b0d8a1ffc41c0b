package application

// deepCopy copies decoded JSON values: maps, slices and scalars.
// Values of any other type are returned as is.
func deepCopy(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return deepCopyMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	case []map[string]interface{}:
		return deepCopyRecords(v)
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopyRecords(records []map[string]interface{}) []map[string]interface{} {
	if records == nil {
		return nil
	}
	out := make([]map[string]interface{}, len(records))
	for i, r := range records {
		out[i] = deepCopyMap(r)
	}
	return out
}
