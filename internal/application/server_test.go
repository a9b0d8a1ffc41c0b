package application

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"bitrix24-mcp-server/internal/domain"
)

func newTestServer(t *testing.T, gateway domain.Gateway) (*Server, *RequestRouter) {
	t.Helper()
	resources, tools := testRegistries(t, gateway)
	router := NewRequestRouter([]domain.ToolHandler{tools}, []domain.ResourceHandler{resources})
	config := &domain.Config{Server: domain.ServerConfig{Name: "bitrix24-test", Version: "9.9.9"}}
	return NewServer(nil, router, config, testDocs(), nil), router
}

// roundTrip encodes a response the way a transport would and decodes it
// back into a generic map.
func roundTrip(t *testing.T, response *domain.Response) map[string]interface{} {
	t.Helper()
	if response == nil {
		t.Fatal("response is nil")
	}
	blob, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("failed to encode response: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(blob, &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestServer_HandleMessage_ProtocolErrors(t *testing.T) {
	server, _ := newTestServer(t, newStubGateway())

	tests := []struct {
		name     string
		message  string
		wantCode int
		wantID   interface{}
	}{
		{"empty", "   ", domain.ParseError, nil},
		{"malformed json", `{"jsonrpc": "2.0",`, domain.ParseError, nil},
		{"array batch", `[{"jsonrpc": "2.0", "id": 1, "method": "ping"}]`, domain.InvalidRequest, nil},
		{"wrong version", `{"jsonrpc": "1.0", "id": 3, "method": "ping"}`, domain.InvalidRequest, float64(3)},
		{"missing method", `{"jsonrpc": "2.0", "id": "x"}`, domain.InvalidRequest, "x"},
		{"unknown method", `{"jsonrpc": "2.0", "id": 4, "method": "prompts/list"}`, domain.MethodNotFound, float64(4)},
		{"tool name missing", `{"jsonrpc": "2.0", "id": 5, "method": "tools/call", "params": {}}`, domain.InvalidParams, float64(5)},
		{"resource uri missing", `{"jsonrpc": "2.0", "id": 6, "method": "resources/query", "params": {"params": {}}}`, domain.InvalidParams, float64(6)},
		{"unknown tool", `{"jsonrpc": "2.0", "id": 7, "method": "tools/call", "params": {"name": "nope"}}`, domain.MethodNotFound, float64(7)},
		{"unknown resource", `{"jsonrpc": "2.0", "id": 8, "method": "resources/query", "params": {"uri": "crm/nope"}}`, domain.MethodNotFound, float64(8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := roundTrip(t, server.HandleMessage(context.Background(), []byte(tt.message)))

			rpcErr, ok := out["error"].(map[string]interface{})
			if !ok {
				t.Fatalf("response = %v, want an error", out)
			}
			if int(rpcErr["code"].(float64)) != tt.wantCode {
				t.Errorf("code = %v, want %d", rpcErr["code"], tt.wantCode)
			}
			if out["id"] != tt.wantID {
				t.Errorf("id = %v, want %v", out["id"], tt.wantID)
			}
			if _, ok := out["id"]; !ok {
				t.Error("id key missing; errors must carry an explicit id")
			}
		})
	}
}

func TestServer_HandleMessage_Notification(t *testing.T) {
	gateway := newStubGateway()
	server, _ := newTestServer(t, gateway)

	for _, message := range []string{
		`{"jsonrpc": "2.0", "method": "notifications/initialized"}`,
		`{"jsonrpc": "2.0", "id": null, "method": "tools/call", "params": {"name": "getContacts"}}`,
		`{"jsonrpc": "1.0", "method": "notifications/initialized"}`,
		`{"jsonrpc": "2.0"}`,
	} {
		if response := server.HandleMessage(context.Background(), []byte(message)); response != nil {
			t.Errorf("HandleMessage(%s) = %+v, want nil", message, response)
		}
	}
	if gateway.total() != 0 {
		t.Errorf("notifications reached upstream %d times", gateway.total())
	}
}

func TestServer_Initialize(t *testing.T) {
	server, _ := newTestServer(t, newStubGateway())

	out := roundTrip(t, server.HandleMessage(context.Background(), []byte(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)))
	result := out["result"].(map[string]interface{})

	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "bitrix24-test" || info["version"] != "9.9.9" {
		t.Errorf("serverInfo = %v", info)
	}
	if result["instructions"] != "Use date ranges." {
		t.Errorf("instructions = %v", result["instructions"])
	}
	if len(result["tools"].([]interface{})) != 9 || len(result["resources"].([]interface{})) != 15 {
		t.Errorf("handshake lists %d tools and %d resources",
			len(result["tools"].([]interface{})), len(result["resources"].([]interface{})))
	}
}

func TestServer_Handshake_Defaults(t *testing.T) {
	server := NewServer(nil, NewRequestRouter(nil, nil), nil, nil, nil)

	handshake := server.Handshake()
	info := handshake["serverInfo"].(map[string]interface{})
	if info["name"] != domain.DefaultServerName || info["version"] != domain.DefaultServerVersion {
		t.Errorf("serverInfo = %v", info)
	}
	if _, ok := handshake["onboarding"]; ok {
		t.Error("onboarding present without a docs bundle")
	}
}

func TestServer_ToolsCall(t *testing.T) {
	gateway := newStubGateway()
	gateway.on(t, "crm.contact.list", `{"result": [{"ID": "1"}], "total": 1}`)
	server, _ := newTestServer(t, gateway)

	tests := []struct {
		name   string
		params string
	}{
		{"mcp field names", `{"name": "getContacts", "arguments": {"select": ["ID"]}}`},
		{"rest aliases", `{"tool": "getContacts", "params": {"select": ["ID"]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message := `{"jsonrpc": "2.0", "id": "call-1", "method": "tools/call", "params": ` + tt.params + `}`
			out := roundTrip(t, server.HandleMessage(context.Background(), []byte(message)))

			result, ok := out["result"].(map[string]interface{})
			if !ok {
				t.Fatalf("response = %v, want a result", out)
			}
			if result["isError"] != false {
				t.Errorf("isError = %v", result["isError"])
			}
			content := result["content"].([]interface{})
			text := content[0].(map[string]interface{})["text"].(string)
			if !strings.HasPrefix(text, "crm/contacts: fetched 1 of 1 records") {
				t.Errorf("content text = %q", text)
			}
		})
	}
}

func TestServer_ToolsCall_UpstreamErrorCodes(t *testing.T) {
	tests := []struct {
		status   int
		wantCode int
	}{
		{401, domain.AuthenticationError},
		{429, domain.RateLimitError},
		{503, domain.NetworkError},
		{400, domain.APIError},
	}

	for _, tt := range tests {
		gateway := newStubGateway()
		status := tt.status
		gateway.onFunc("profile", func(map[string]interface{}) (map[string]interface{}, error) {
			return nil, &domain.UpstreamError{StatusCode: status, Message: "upstream failed"}
		})
		server, _ := newTestServer(t, gateway)

		message := `{"jsonrpc": "2.0", "id": 1, "method": "tools/call", "params": {"name": "callBitrixMethod", "arguments": {"method": "profile"}}}`
		out := roundTrip(t, server.HandleMessage(context.Background(), []byte(message)))
		rpcErr := out["error"].(map[string]interface{})
		if int(rpcErr["code"].(float64)) != tt.wantCode {
			t.Errorf("HTTP %d mapped to %v, want %d", tt.status, rpcErr["code"], tt.wantCode)
		}
		data := rpcErr["data"].(map[string]interface{})
		if data["type"] != domain.ErrorTypeUpstream {
			t.Errorf("data = %v", data)
		}
	}
}

func TestServer_ResourcesQueryAndRead(t *testing.T) {
	gateway := newStubGateway()
	stubDictionaries(t, gateway)
	server, _ := newTestServer(t, gateway)

	query := roundTrip(t, server.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc": "2.0", "id": 1, "method": "resources/query", "params": {"resource": "crm/lead_statuses", "params": {}}}`)))
	result := query["result"].(map[string]interface{})
	if data := result["data"].([]interface{}); len(data) != 2 {
		t.Errorf("data = %v, want two statuses", data)
	}

	read := roundTrip(t, server.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc": "2.0", "id": 2, "method": "resources/read", "params": {"uri": "crm/currencies"}}`)))
	contents := read["result"].(map[string]interface{})["contents"].([]interface{})
	entry := contents[0].(map[string]interface{})
	if entry["uri"] != "crm/currencies" || entry["mimeType"] != "application/json" {
		t.Errorf("contents[0] = %v", entry)
	}
	if !strings.Contains(entry["text"].(string), "RUB") {
		t.Errorf("text = %v", entry["text"])
	}
}

func TestServer_ResourcesQuery_Cursor(t *testing.T) {
	gateway := newStubGateway()
	server, _ := newTestServer(t, gateway)

	server.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc": "2.0", "id": 1, "method": "resources/query", "params": {"uri": "crm/companies", "cursor": 100}}`))

	if got := gateway.lastPayload(t, "crm.company.list")["start"]; got != 100 {
		t.Errorf("start = %v, want 100", got)
	}
}

func TestServer_ListMethods(t *testing.T) {
	server, _ := newTestServer(t, newStubGateway())

	tools := roundTrip(t, server.HandleMessage(context.Background(), []byte(`{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`)))
	if got := len(tools["result"].(map[string]interface{})["tools"].([]interface{})); got != 9 {
		t.Errorf("tools/list returned %d tools, want 9", got)
	}

	resources := roundTrip(t, server.HandleMessage(context.Background(), []byte(`{"jsonrpc": "2.0", "id": 2, "method": "resources/list"}`)))
	if got := len(resources["result"].(map[string]interface{})["resources"].([]interface{})); got != 15 {
		t.Errorf("resources/list returned %d resources, want 15", got)
	}

	ping := roundTrip(t, server.HandleMessage(context.Background(), []byte(`{"jsonrpc": "2.0", "id": 3, "method": "ping"}`)))
	if _, ok := ping["result"].(map[string]interface{}); !ok {
		t.Errorf("ping = %v", ping)
	}
}
