package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bitrix24-mcp-server/internal/domain"
)

// gatewayCall records one upstream call made through stubGateway.
type gatewayCall struct {
	method  string
	payload map[string]interface{}
}

// stubGateway answers Bitrix24 calls from canned responders and records
// every call. Methods without a responder return an empty result list.
type stubGateway struct {
	mu         sync.Mutex
	calls      []gatewayCall
	responders map[string]func(payload map[string]interface{}) (map[string]interface{}, error)
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		responders: make(map[string]func(payload map[string]interface{}) (map[string]interface{}, error)),
	}
}

// on registers a fixed JSON response for method.
func (g *stubGateway) on(t *testing.T, method, body string) {
	t.Helper()
	response := decodeJSON(t, body)
	g.responders[method] = func(map[string]interface{}) (map[string]interface{}, error) {
		return deepCopyMap(response), nil
	}
}

// onFunc registers a responder computing the response from the payload.
func (g *stubGateway) onFunc(method string, fn func(payload map[string]interface{}) (map[string]interface{}, error)) {
	g.responders[method] = fn
}

func (g *stubGateway) Call(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{method: method, payload: deepCopyMap(payload)})
	responder := g.responders[method]
	g.mu.Unlock()

	if responder != nil {
		return responder(payload)
	}
	return map[string]interface{}{"result": []interface{}{}}, nil
}

func (g *stubGateway) count(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, call := range g.calls {
		if call.method == method {
			n++
		}
	}
	return n
}

func (g *stubGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// lastPayload returns the payload of the most recent call to method.
func (g *stubGateway) lastPayload(t *testing.T, method string) map[string]interface{} {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].method == method {
			return g.calls[i].payload
		}
	}
	t.Fatalf("no call to %s recorded", method)
	return nil
}

func decodeJSON(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("invalid test JSON %q: %v", body, err)
	}
	return out
}

// testNow is the fixed clock of every registry built by the helpers.
var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testDates() *domain.DateRangeBuilder {
	return domain.NewDateRangeBuilderWithClock(time.UTC, func() time.Time { return testNow })
}

// testDocs is a small bundle with one date-range rule per list tool and
// a two-scenario leads guide.
func testDocs() *domain.DocsBundle {
	return &domain.DocsBundle{
		Initialize: map[string]interface{}{
			"instructions": "Use date ranges.",
			"steps":        []interface{}{"list resources"},
		},
		ToolWarnings: map[string][]domain.WarningRule{
			ToolGetDeals: {{
				Check:           domain.CheckRequireDateRange,
				Fields:          []string{"DATE_CREATE", "DATE_MODIFY"},
				Message:         "Add a date range, e.g. {today_start}..{today_end}.",
				Suggestion:      domain.RangeToday,
				SuggestionField: "DATE_CREATE",
			}},
			ToolGetLeads: {{
				Check:           domain.CheckRequireDateRange,
				Fields:          []string{"DATE_CREATE"},
				Message:         "Leads need a window such as {week_start}.",
				Suggestion:      domain.RangeLastWeek,
				SuggestionField: "DATE_CREATE",
			}},
		},
		Resources: map[string]domain.ResourceDoc{
			ResourceLeads: {Descriptor: &domain.ResourceDoc{Name: "Leads (docs)", Description: "Lead list from docs."}},
			ResourceLeadsGuide: {
				Scenarios: []map[string]interface{}{
					{
						"title":       "New leads today",
						"description": "Created since midnight.",
						"payload": map[string]interface{}{
							"filter": map[string]interface{}{">=DATE_CREATE": "{today_start}", "<=DATE_CREATE": "{today_end}"},
						},
					},
					{
						"title":   "Leads by source",
						"payload": map[string]interface{}{"filter": map[string]interface{}{"=SOURCE_ID": "WEB"}},
					},
				},
				Rules: []interface{}{"Always bound dates."},
			},
		},
	}
}

// testRegistries builds the resource and tool registries over gateway.
func testRegistries(t *testing.T, gateway domain.Gateway) (*ResourceRegistry, *ToolRegistry) {
	t.Helper()
	logger := NewStructuredLogger(nil)
	dates := testDates()
	docs := testDocs()

	cache, err := NewQueryCache(5*time.Minute, 64, logger)
	if err != nil {
		t.Fatalf("NewQueryCache() error = %v", err)
	}
	users, err := NewUserDirectory(gateway, 64, logger)
	if err != nil {
		t.Fatalf("NewUserDirectory() error = %v", err)
	}

	resources := NewResourceRegistry(ResourceDeps{
		Gateway:      gateway,
		Cache:        cache,
		Users:        users,
		Docs:         docs,
		Dates:        dates,
		InstanceName: "test",
		Logger:       logger,
	})
	tools, err := NewToolRegistry(ToolDeps{
		Gateway:      gateway,
		Resources:    resources,
		Warnings:     NewWarningEvaluator(docs, dates, logger),
		Dates:        dates,
		Docs:         docs,
		InstanceName: "test",
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("NewToolRegistry() error = %v", err)
	}
	return resources, tools
}

// stubDictionaries registers the lead status and source dictionaries, a
// currency list and a user.
func stubDictionaries(t *testing.T, gateway *stubGateway) {
	t.Helper()
	gateway.onFunc("crm.status.list", func(payload map[string]interface{}) (map[string]interface{}, error) {
		filter, _ := payload["filter"].(map[string]interface{})
		switch filter["ENTITY_ID"] {
		case "SOURCE":
			return map[string]interface{}{"result": []interface{}{
				map[string]interface{}{"ID": "31", "STATUS_ID": "WEB", "NAME": "Сайт"},
			}}, nil
		default:
			return map[string]interface{}{"result": []interface{}{
				map[string]interface{}{"ID": "1", "STATUS_ID": "NEW", "NAME": "Новый", "SEMANTICS": "P"},
				map[string]interface{}{"ID": "2", "STATUS_ID": "CONVERTED", "NAME": "Качественный", "SEMANTICS": "S"},
			}}, nil
		}
	})
	gateway.on(t, "crm.currency.list", `{"result":[{"CURRENCY":"RUB","FULL_NAME":"Российский рубль"}]}`)
	gateway.onFunc("user.get", func(payload map[string]interface{}) (map[string]interface{}, error) {
		if payload["ID"] == 7 {
			return map[string]interface{}{"result": []interface{}{
				map[string]interface{}{"ID": "7", "NAME": "Анна", "LAST_NAME": "Иванова"},
			}}, nil
		}
		return map[string]interface{}{"result": []interface{}{}}, nil
	})
}

func strPtr(s string) *string {
	return &s
}
