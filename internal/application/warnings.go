package application

import (
	"regexp"
	"strings"
	"time"

	"bitrix24-mcp-server/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// WarningEvaluator checks tool arguments against the advisory rules of the
// docs bundle.
type WarningEvaluator struct {
	docs   *domain.DocsBundle
	dates  *domain.DateRangeBuilder
	logger *StructuredLogger
}

// NewWarningEvaluator creates an evaluator over the rules in docs.
func NewWarningEvaluator(docs *domain.DocsBundle, dates *domain.DateRangeBuilder, logger *StructuredLogger) *WarningEvaluator {
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	if dates == nil {
		dates = domain.NewDateRangeBuilder(nil)
	}
	return &WarningEvaluator{docs: docs, dates: dates, logger: logger}
}

// Evaluate returns one advisory per rule of tool that the filter violates.
func (e *WarningEvaluator) Evaluate(tool string, filter map[string]interface{}) ([]domain.Advisory, error) {
	var advisories []domain.Advisory
	for _, rule := range e.docs.RulesFor(tool) {
		if rule.Message == "" {
			continue
		}
		switch rule.Check {
		case domain.CheckRequireDateRange:
			if !missingDateRange(filter, rule.Fields) {
				continue
			}
			advisory, err := e.dateRangeAdvisory(rule)
			if err != nil {
				return nil, err
			}
			advisories = append(advisories, advisory)
		default:
			e.logger.LogDebug("unknown warning check ignored", map[string]interface{}{
				"tool":  tool,
				"check": rule.Check,
			})
		}
	}
	return advisories, nil
}

// missingDateRange reports whether filter is empty or bounds none of fields
// on both sides.
func missingDateRange(filter map[string]interface{}, fields []string) bool {
	if len(filter) == 0 {
		return true
	}
	if len(fields) == 0 {
		return false
	}
	for _, field := range fields {
		if hasDateRange(filter, field) {
			return false
		}
	}
	return true
}

// hasDateRange reports whether filter carries both a lower (>= or >) and an
// upper (<= or <) bound on field.
func hasDateRange(filter map[string]interface{}, field string) bool {
	var lower, upper bool
	for key := range filter {
		if !strings.HasSuffix(key, field) {
			continue
		}
		switch {
		case strings.HasPrefix(key, ">"):
			lower = true
		case strings.HasPrefix(key, "<"):
			upper = true
		}
	}
	return lower && upper
}

func (e *WarningEvaluator) dateRangeAdvisory(rule domain.WarningRule) (domain.Advisory, error) {
	kind := rule.Suggestion
	if kind == "" {
		kind = domain.RangeToday
	}

	placeholders, err := e.placeholders(kind, rule.SuggestionFormat)
	if err != nil {
		return domain.Advisory{}, err
	}

	advisory := domain.Advisory{
		Message:    substitutePlaceholders(rule.Message, placeholders),
		Suggestion: kind,
	}

	if len(rule.SuggestedFilters) > 0 {
		filters, _ := substituteValue(deepCopyMap(rule.SuggestedFilters), placeholders).(map[string]interface{})
		advisory.SuggestedFilters = filters
		return advisory, nil
	}

	field := rule.SuggestionField
	if field == "" && len(rule.Fields) > 0 {
		field = rule.Fields[0]
	}
	if field == "" {
		return advisory, nil
	}

	window, err := e.dates.BuildRange(kind, time.Time{})
	if err != nil {
		return domain.Advisory{}, err
	}
	filters := map[string]interface{}{
		">=" + field: domain.FormatValue(window.Start, rule.SuggestionFormat),
		"<=" + field: domain.FormatValue(window.End, rule.SuggestionFormat),
	}
	if rule.SemanticField != "" && rule.SemanticValue != "" {
		filters["="+rule.SemanticField] = rule.SemanticValue
	}
	advisory.SuggestedFilters = filters
	return advisory, nil
}

// placeholders merges the today window, the rule's window and the last week.
func (e *WarningEvaluator) placeholders(kind, hint string) (map[string]string, error) {
	values, err := e.dates.Placeholders(domain.RangeToday, hint)
	if err != nil {
		return nil, err
	}
	if kind != domain.RangeToday {
		extra, err := e.dates.Placeholders(kind, hint)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			values[k] = v
		}
	}
	for k, v := range e.dates.WeekPlaceholders() {
		values[k] = v
	}
	return values, nil
}

// substitutePlaceholders replaces {name} tokens with their values. Unknown
// tokens are left as they are.
func substitutePlaceholders(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		if v, ok := values[token[1:len(token)-1]]; ok {
			return v
		}
		return token
	})
}

// substituteValue applies substitutePlaceholders to every string inside a
// decoded JSON value, in place.
func substituteValue(value interface{}, values map[string]string) interface{} {
	switch v := value.(type) {
	case string:
		return substitutePlaceholders(v, values)
	case map[string]interface{}:
		for k, item := range v {
			v[k] = substituteValue(item, values)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = substituteValue(item, values)
		}
		return v
	default:
		return value
	}
}
