package application

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Semantic group labels for status and stage dictionaries.
var semanticGroupLabels = map[string]string{
	"process": "In progress",
	"success": "Successful",
	"failure": "Failed",
}

// stringValue renders an upstream scalar as an identifier. Nil and empty
// values yield "". Integral numbers render without a fraction.
func stringValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func trimmedString(value interface{}) string {
	return strings.TrimSpace(stringValue(value))
}

func joinSpace(parts []string) string {
	return strings.Join(parts, " ")
}

// firstString returns the first non-empty identifier among keys.
func firstString(record map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(record[key]); s != "" {
			return s
		}
	}
	return ""
}

// indexByKeys indexes records by the first of keys present with a non-empty
// value. Later records with the same identifier replace earlier ones.
func indexByKeys(records []map[string]interface{}, keys ...string) map[string]map[string]interface{} {
	index := make(map[string]map[string]interface{}, len(records))
	for _, record := range records {
		for _, key := range keys {
			value, ok := record[key]
			if !ok || value == nil {
				continue
			}
			if id := stringValue(value); id != "" {
				index[id] = record
				break
			}
		}
	}
	return index
}

// EnumSummary is the _meta entry describing a dictionary row.
func EnumSummary(id string, entry map[string]interface{}) map[string]interface{} {
	var name interface{}
	for _, key := range []string{"NAME", "TITLE", "VALUE"} {
		if v, ok := entry[key]; ok && v != nil && v != "" {
			name = v
			break
		}
	}
	return map[string]interface{}{
		"id":   id,
		"name": name,
		"raw":  deepCopyMap(entry),
	}
}

// normalizeEnumItems extracts enumeration rows from a field definition
// returned by tasks.task.getFields. Item lists and id-to-value maps are
// accepted under ENUM, ITEMS or VALUES (either case), then a LABELS map,
// then a VALUE list. Map-shaped enums are emitted in key order.
func normalizeEnumItems(definition interface{}) []map[string]interface{} {
	switch def := definition.(type) {
	case []interface{}:
		return recordsOf(def)
	case map[string]interface{}:
		for _, key := range []string{"ENUM", "enum", "ITEMS", "items", "VALUES", "values"} {
			switch items := def[key].(type) {
			case []interface{}:
				return recordsOf(items)
			case map[string]interface{}:
				out := make([]map[string]interface{}, 0, len(items))
				for _, enumKey := range sortedKeys(items) {
					item := map[string]interface{}{"ID": enumKey}
					if nested, ok := items[enumKey].(map[string]interface{}); ok {
						for k, v := range nested {
							item[k] = v
						}
					} else {
						item["NAME"] = items[enumKey]
					}
					out = append(out, item)
				}
				return out
			}
		}

		labels, ok := def["LABELS"].(map[string]interface{})
		if !ok {
			labels, _ = def["labels"].(map[string]interface{})
		}
		if len(labels) > 0 {
			out := make([]map[string]interface{}, 0, len(labels))
			for _, k := range sortedKeys(labels) {
				out = append(out, map[string]interface{}{"ID": k, "NAME": labels[k]})
			}
			return out
		}

		values, ok := def["VALUE"].([]interface{})
		if !ok {
			values, _ = def["value"].([]interface{})
		}
		return recordsOf(values)
	}
	return []map[string]interface{}{}
}

// recordsOf keeps the object elements of a decoded JSON array.
func recordsOf(items []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]interface{}); ok {
			out = append(out, record)
		}
	}
	return out
}

// sortedKeys returns map keys with numeric keys in numeric order first.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// extractSemantics reads the semantic code of a status or stage row from
// SEMANTICS, STATUS or EXTRA.SEMANTICS.
func extractSemantics(entry map[string]interface{}) string {
	if s := firstString(entry, "SEMANTICS", "STATUS"); s != "" {
		return s
	}
	if extra, ok := entry["EXTRA"].(map[string]interface{}); ok {
		return stringValue(extra["SEMANTICS"])
	}
	return ""
}

// semanticGroupLabel maps a semantic code to its label, case-insensitively.
// Unknown codes pass through unchanged.
func semanticGroupLabel(semantics string) string {
	if label, ok := semanticGroupLabels[strings.ToLower(semantics)]; ok {
		return label
	}
	return semantics
}

// applySemanticGroups adds group and groupName to every row that carries
// a semantic code.
func applySemanticGroups(entries []map[string]interface{}) {
	for _, entry := range entries {
		if semantics := extractSemantics(entry); semantics != "" {
			entry["group"] = semantics
			entry["groupName"] = semanticGroupLabel(semantics)
		}
	}
}
