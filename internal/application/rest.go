package application

import (
	"encoding/json"
	"io"
	"net/http"

	"bitrix24-mcp-server/internal/domain"
)

// maxRESTBody bounds the body of a legacy REST request.
const maxRESTBody = 4 << 20

// oauthStubPayload answers OAuth discovery requests from MCP clients.
var oauthStubPayload = map[string]string{
	"status":  "ok",
	"message": "OAuth discovery metadata is not configured for this MCP server.",
}

// Mounter registers extra HTTP routes. The HTTP transport implements it.
type Mounter interface {
	Mount(pattern string, handler http.Handler)
}

// RESTHandler serves the legacy REST surface next to JSON-RPC: the index,
// initialize, resource query and tool call endpoints plus health and OAuth
// discovery stubs.
type RESTHandler struct {
	server *Server
	router *RequestRouter
	logger *StructuredLogger
}

// NewRESTHandler creates the REST endpoints over the server's router.
func NewRESTHandler(server *Server, router *RequestRouter, logger *StructuredLogger) *RESTHandler {
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	return &RESTHandler{server: server, router: router, logger: logger}
}

// Mount registers every REST route on m.
func (h *RESTHandler) Mount(m Mounter) {
	m.Mount("/healthz", http.HandlerFunc(h.handleHealth))
	m.Mount("/mcp/index", http.HandlerFunc(h.handleIndex))
	m.Mount("/mcp/initialize", http.HandlerFunc(h.handleInitialize))
	m.Mount("/mcp/resource/query", http.HandlerFunc(h.handleResourceQuery))
	m.Mount("/mcp/tool/call", http.HandlerFunc(h.handleToolCall))

	oauth := http.HandlerFunc(h.handleOAuthDiscovery)
	for _, prefix := range []string{"/.well-known/oauth-authorization-server", "/mcp/.well-known/oauth-authorization-server"} {
		m.Mount(prefix, oauth)
		m.Mount(prefix+"/", oauth)
	}
}

func (h *RESTHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthPayload)
}

func (h *RESTHandler) handleOAuthDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oauthStubPayload)
}

func (h *RESTHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources": h.router.ListAllResources(),
		"tools":     h.router.ListAllTools(),
	})
}

func (h *RESTHandler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.server.Handshake())
}

// restQuery is the body of POST /mcp/resource/query.
type restQuery struct {
	Resource string                 `json:"resource"`
	Params   map[string]interface{} `json:"params"`
	Cursor   interface{}            `json:"cursor"`
}

func (h *RESTHandler) handleResourceQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body restQuery
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	if body.Resource == "" {
		h.writeError(w, domain.NewValidationError("resource is required"))
		return
	}

	query := &domain.QueryRequest{Resource: body.Resource, Params: body.Params}
	if query.Params == nil {
		query.Params = map[string]interface{}{}
	}
	if body.Cursor != nil {
		cursor := stringValue(body.Cursor)
		query.Cursor = &cursor
	}

	response, err := h.router.Query(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// restToolCall is the body of POST /mcp/tool/call. A body carrying
// jsonrpc is handled as a JSON-RPC message instead.
type restToolCall struct {
	JSONRPC string                 `json:"jsonrpc"`
	Tool    string                 `json:"tool"`
	Params  map[string]interface{} `json:"params"`
}

func (h *RESTHandler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRESTBody))
	if err != nil {
		h.writeError(w, domain.NewValidationError("failed to read request body: %v", err))
		return
	}

	var body restToolCall
	if err := json.Unmarshal(raw, &body); err != nil {
		// Not a REST body; let the JSON-RPC path produce the proper error
		body.JSONRPC = domain.JSONRPCVersion
	}

	if body.JSONRPC != "" {
		response := h.server.HandleMessage(r.Context(), raw)
		if response == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if body.Tool == "" {
		h.writeError(w, domain.NewValidationError("tool is required"))
		return
	}
	response, err := h.router.Route(r.Context(), &domain.ToolRequest{Name: body.Tool, Arguments: body.Params})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// writeError answers with the status of err and a {"detail": {...}} body.
func (h *RESTHandler) writeError(w http.ResponseWriter, err error) {
	status := domain.HTTPStatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.LogError("rest request failed", err, map[string]interface{}{"status": status})
	}
	writeJSON(w, status, map[string]interface{}{"detail": domain.ErrorBody(err)})
}

func decodeBody(r *http.Request, v interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRESTBody))
	if err != nil {
		return domain.NewValidationError("failed to read request body: %v", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewValidationError("request body is not valid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
