package application

import (
	"encoding/json"
	"fmt"

	"bitrix24-mcp-server/internal/domain"
)

const warningGlyph = "⚠️"

// Envelope collects everything a tool call produced before it is shaped
// into a domain.ToolResponse.
type Envelope struct {
	Metadata   domain.Metadata
	Request    map[string]interface{}
	Response   map[string]interface{}
	Advisories []domain.Advisory
	Aggregates map[string]interface{}
	Hints      map[string]interface{}
}

// BuildEnvelope shapes a tool result into structured content and text lines.
// The output does not depend on the transport the call arrived on.
func BuildEnvelope(env Envelope) *domain.ToolResponse {
	structured := map[string]interface{}{
		"metadata": env.Metadata,
		"request":  env.Request,
		"result":   env.Response,
	}

	var (
		content  []domain.ContentBlock
		messages []string
		fixes    []interface{}
	)
	if len(env.Advisories) > 0 {
		advisories := make([]domain.Advisory, len(env.Advisories))
		copy(advisories, env.Advisories)
		structured["warnings"] = advisories

		for _, advisory := range env.Advisories {
			messages = append(messages, advisory.Message)
			content = append(content, domain.TextBlock(warningLine(advisory)))
			if len(advisory.SuggestedFilters) > 0 {
				fixes = append(fixes, advisory.SuggestedFilters)
			}
		}
		if len(fixes) > 0 {
			structured["suggestedFix"] = map[string]interface{}{"filters": fixes}
		}
	}
	if len(env.Aggregates) > 0 {
		structured["aggregates"] = env.Aggregates
	}
	if len(env.Hints) > 0 {
		structured["hints"] = env.Hints
	}
	if pagination := paginationOf(env.Request, env.Response); pagination != nil {
		structured["pagination"] = pagination
	}

	content = append(content, domain.TextBlock(summaryLine(env.Metadata, env.Response)))

	hasAdvisories := len(messages) > 0
	return &domain.ToolResponse{
		Metadata:          env.Metadata,
		Result:            env.Response,
		StructuredContent: structured,
		Content:           content,
		Warnings:          messages,
		IsError:           hasAdvisories,
		HasAdvisories:     hasAdvisories,
	}
}

func warningLine(advisory domain.Advisory) string {
	line := warningGlyph + " " + advisory.Message
	if len(advisory.SuggestedFilters) == 0 {
		return line
	}
	blob, err := json.Marshal(advisory.SuggestedFilters)
	if err != nil {
		return line
	}
	return line + " Suggested filter: " + string(blob)
}

// summaryLine names the resource or tool and counts the returned records
// when the upstream result is a list.
func summaryLine(metadata domain.Metadata, response map[string]interface{}) string {
	name := metadata.Resource
	if name == "" {
		name = metadata.Tool
	}
	if name == "" {
		name = "Bitrix24"
	}

	items, ok := response["result"].([]interface{})
	if !ok {
		return fmt.Sprintf("%s: response received. Full payload in structuredContent.result.", name)
	}
	if total := normalizeTotal(response["total"]); total != nil {
		return fmt.Sprintf("%s: fetched %d of %d records. Full payload in structuredContent.result.", name, len(items), *total)
	}
	return fmt.Sprintf("%s: fetched %d records. Full payload in structuredContent.result.", name, len(items))
}

// paginationOf summarises paging state, or returns nil when neither the
// request nor the response carries any.
func paginationOf(request, response map[string]interface{}) map[string]interface{} {
	pagination := map[string]interface{}{}
	if total := normalizeTotal(response["total"]); total != nil {
		pagination["total"] = *total
	}
	if next, ok := response["next"]; ok && next != nil {
		pagination["next"] = next
	}
	if start, ok := request["start"]; ok && start != nil {
		pagination["start"] = start
	}
	if limit, ok := request["limit"]; ok && limit != nil {
		pagination["limit"] = limit
	}
	if len(pagination) == 0 {
		return nil
	}
	if items, ok := response["result"].([]interface{}); ok {
		pagination["returned"] = len(items)
	}
	return pagination
}
