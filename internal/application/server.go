package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitrix24-mcp-server/internal/domain"
)

// ProtocolVersion is the MCP protocol revision announced by initialize.
const ProtocolVersion = "2025-06-18"

// Server is the main MCP server implementation.
// It implements domain.MessageHandler: every transport hands it raw
// JSON-RPC messages and delivers the replies it returns.
type Server struct {
	transport domain.Transport
	router    *RequestRouter
	config    *domain.Config
	docs      *domain.DocsBundle
	logger    *StructuredLogger
}

// NewServer creates a new MCP server instance.
func NewServer(
	transport domain.Transport,
	router *RequestRouter,
	config *domain.Config,
	docs *domain.DocsBundle,
	logger *StructuredLogger,
) *Server {
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	return &Server{
		transport: transport,
		router:    router,
		config:    config,
		docs:      docs,
		logger:    logger,
	}
}

// Start begins the server operation by starting the transport with the
// server as its message handler.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx, s); err != nil {
		s.logger.LogError("failed to start transport", err, map[string]interface{}{
			"transport_type": s.config.Transport.Type,
		})
		return fmt.Errorf("failed to start transport: %w", err)
	}

	s.logger.LogInfo("server started", map[string]interface{}{
		"transport_type": s.config.Transport.Type,
	})
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.logger.LogInfo("closing server", nil)
	return s.transport.Close()
}

// HandleMessage implements domain.MessageHandler. It returns nil for
// notifications.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) *domain.Response {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.NewErrorResponse(nil, domain.ParseError, "Parse error", "empty message")
	}

	var envelope interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.NewErrorResponse(nil, domain.ParseError, "Parse error", err.Error())
	}
	if _, ok := envelope.(map[string]interface{}); !ok {
		return domain.NewErrorResponse(nil, domain.InvalidRequest, "Invalid Request", "message must be a JSON object")
	}

	var req domain.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return domain.NewErrorResponse(nil, domain.InvalidRequest, "Invalid Request", err.Error())
	}

	// Notifications never get a reply, malformed ones included
	if req.IsNotification() {
		if err := validateRequest(&req); err != nil {
			s.logger.LogWarn("invalid notification dropped", map[string]interface{}{"method": req.Method, "error": err.Error()})
			return nil
		}
		s.logger.LogDebug("notification received", map[string]interface{}{"method": req.Method})
		return nil
	}

	// Validate request structure
	if err := validateRequest(&req); err != nil {
		return domain.NewErrorResponse(req.ID, domain.InvalidRequest, "Invalid Request", err.Error())
	}

	s.logger.LogInfo("received request", map[string]interface{}{
		"method":     req.Method,
		"request_id": req.ID,
	})

	result, err := s.dispatch(ctx, &req)
	if err != nil {
		s.logger.LogError("request processing failed", err, map[string]interface{}{
			"method":     req.Method,
			"request_id": req.ID,
		})
		rpcErr := domain.MapError(err)
		if rpcErr.Data == nil {
			rpcErr.Data = domain.ErrorBody(err)
		}
		return &domain.Response{JSONRPC: domain.JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return domain.NewResultResponse(req.ID, result)
}

// validateRequest validates the basic structure of a JSON-RPC request.
func validateRequest(req *domain.Request) error {
	if req.JSONRPC != domain.JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %q", req.JSONRPC)
	}
	if req.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// dispatch routes a request to its method implementation.
func (s *Server) dispatch(ctx context.Context, req *domain.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return s.Handshake(), nil
	case "ping":
		return map[string]interface{}{}, nil
	case "resources/list":
		return map[string]interface{}{"resources": s.router.ListAllResources()}, nil
	case "resources/query":
		query, err := parseQueryParams(req.Params)
		if err != nil {
			return nil, err
		}
		return s.router.Query(ctx, query)
	case "resources/read":
		query, err := parseQueryParams(req.Params)
		if err != nil {
			return nil, err
		}
		return s.readResource(ctx, query)
	case "tools/list":
		return map[string]interface{}{"tools": s.router.ListAllTools()}, nil
	case "tools/call":
		toolReq, err := parseToolParams(req.Params)
		if err != nil {
			return nil, err
		}
		return s.router.Route(ctx, toolReq)
	default:
		return nil, &domain.Error{
			Code:    domain.MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}
}

// Handshake is the initialize result, shared with the REST endpoints.
func (s *Server) Handshake() map[string]interface{} {
	name := domain.DefaultServerName
	version := domain.DefaultServerVersion
	if s.config != nil {
		if s.config.Server.Name != "" {
			name = s.config.Server.Name
		}
		if s.config.Server.Version != "" {
			version = s.config.Server.Version
		}
	}

	result := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]interface{}{
			"name":    name,
			"version": version,
		},
		"capabilities": map[string]interface{}{
			"resources": map[string]interface{}{"list": true, "query": true},
			"tools":     map[string]interface{}{"list": true, "call": true},
		},
		"resources": s.router.ListAllResources(),
		"tools":     s.router.ListAllTools(),
	}
	if s.docs != nil && len(s.docs.Initialize) > 0 {
		result["onboarding"] = deepCopyMap(s.docs.Initialize)
		if instructions, ok := s.docs.Initialize["instructions"].(string); ok {
			result["instructions"] = instructions
		}
	}
	return result
}

// readResource renders a query result as MCP resource contents.
func (s *Server) readResource(ctx context.Context, query *domain.QueryRequest) (interface{}, error) {
	response, err := s.router.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", query.Resource, err)
	}
	return map[string]interface{}{
		"contents": []domain.Resource{{
			URI:      query.Resource,
			MimeType: "application/json",
			Text:     string(text),
		}},
	}, nil
}

// queryParams accepts the MCP field names and the REST aliases.
type queryParams struct {
	URI       string                 `json:"uri"`
	Resource  string                 `json:"resource"`
	Arguments map[string]interface{} `json:"arguments"`
	Params    map[string]interface{} `json:"params"`
	Cursor    interface{}            `json:"cursor"`
}

// parseQueryParams parses resources/query and resources/read params.
func parseQueryParams(raw json.RawMessage) (*domain.QueryRequest, error) {
	var params queryParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &domain.Error{Code: domain.InvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}

	uri := params.URI
	if uri == "" {
		uri = params.Resource
	}
	if uri == "" {
		return nil, &domain.Error{Code: domain.InvalidParams, Message: "Invalid params: resource uri required"}
	}

	arguments := params.Arguments
	if arguments == nil {
		arguments = params.Params
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	query := &domain.QueryRequest{Resource: uri, Params: arguments}
	if params.Cursor != nil {
		cursor := stringValue(params.Cursor)
		query.Cursor = &cursor
	}
	return query, nil
}

// toolParams accepts name/arguments and the REST aliases tool/params.
type toolParams struct {
	Name      string                 `json:"name"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Params    map[string]interface{} `json:"params"`
}

// parseToolParams parses tools/call params into a ToolRequest.
func parseToolParams(raw json.RawMessage) (*domain.ToolRequest, error) {
	var params toolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &domain.Error{Code: domain.InvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}

	name := params.Name
	if name == "" {
		name = params.Tool
	}
	if name == "" {
		return nil, &domain.Error{Code: domain.InvalidParams, Message: "Invalid params: tool name required"}
	}

	arguments := params.Arguments
	if arguments == nil {
		arguments = params.Params
	}
	if arguments == nil {
		arguments = make(map[string]interface{})
	}
	return &domain.ToolRequest{Name: name, Arguments: arguments}, nil
}
