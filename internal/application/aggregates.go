package application

import (
	"sort"

	"bitrix24-mcp-server/internal/domain"
)

// bucket counts records sharing one identifier.
type bucket struct {
	id    string
	name  interface{}
	count int
}

// leadAggregates counts enriched leads by responsible user and by status.
// Display names come from the _meta summaries when they were resolved.
func leadAggregates(leads []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"returned":      len(leads),
		"byResponsible": countBy(leads, "ASSIGNED_BY_ID", "responsible"),
		"byStatus":      countBy(leads, "STATUS_ID", "status"),
	}
}

// countBy groups records by field. Buckets are ordered by count, largest
// first, then by identifier.
func countBy(records []map[string]interface{}, field, metaSlot string) []interface{} {
	buckets := make(map[string]*bucket)
	for _, record := range records {
		id := stringValue(record[field])
		if id == "" {
			continue
		}
		b, ok := buckets[id]
		if !ok {
			b = &bucket{id: id}
			buckets[id] = b
		}
		b.count++
		if b.name == nil {
			b.name = metaName(record, metaSlot)
		}
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].id < ordered[j].id
	})

	out := make([]interface{}, 0, len(ordered))
	for _, b := range ordered {
		entry := map[string]interface{}{"id": b.id, "count": b.count}
		if b.name != nil {
			entry["name"] = b.name
		}
		out = append(out, entry)
	}
	return out
}

func metaName(record map[string]interface{}, slot string) interface{} {
	meta, ok := record[metaKey].(map[string]interface{})
	if !ok {
		return nil
	}
	summary, ok := meta[slot].(map[string]interface{})
	if !ok {
		return nil
	}
	return summary["name"]
}

// leadHints carries the timezone and a ready-to-paste last-week filter.
func leadHints(dates *domain.DateRangeBuilder) map[string]interface{} {
	week := dates.WeekPlaceholders()
	return map[string]interface{}{
		"timezone": dates.Location().String(),
		"copyableFilters": map[string]interface{}{
			"lastWeek": map[string]interface{}{
				">=DATE_CREATE": week["week_start"],
				"<=DATE_CREATE": week["week_end"],
			},
		},
	}
}
