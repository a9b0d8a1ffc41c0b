package domain

import (
	"context"
)

// ToolHandler processes tool calls.
// The tool registry implements this interface; the router aggregates handlers
// and dispatches by exact tool name.
type ToolHandler interface {
	// Handle processes an MCP tool call request.
	// Returns *NotFoundError for an unknown tool and *ValidationError for
	// malformed arguments, both before any upstream call.
	Handle(ctx context.Context, req *ToolRequest) (*ToolResponse, error)

	// ListTools returns the descriptors of every tool this handler serves.
	ListTools() []ToolDescriptor
}

// ResourceHandler processes resource queries.
type ResourceHandler interface {
	// Query runs a resource query.
	// Returns *NotFoundError for an unknown resource.
	Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error)

	// ListResources returns the descriptors of every resource this handler serves.
	ListResources() []ResourceDescriptor
}

// MessageHandler turns one raw JSON-RPC message into its reply.
// Transports call it for every inbound frame, line or POST body.
// A nil reply means the message was a notification.
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw []byte) *Response
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(ctx context.Context, raw []byte) *Response

// HandleMessage implements MessageHandler.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, raw []byte) *Response {
	return f(ctx, raw)
}
