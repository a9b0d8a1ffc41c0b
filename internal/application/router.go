package application

import (
	"context"

	"bitrix24-mcp-server/internal/domain"
)

// RequestRouter dispatches tool calls and resource queries to the handler
// that declares them. The name index is built once from the descriptors
// each handler lists.
type RequestRouter struct {
	toolHandlers     []domain.ToolHandler
	resourceHandlers []domain.ResourceHandler
	tools            map[string]domain.ToolHandler
	resources        map[string]domain.ResourceHandler
}

// NewRequestRouter creates a new RequestRouter. When two handlers declare
// the same name the first one wins.
func NewRequestRouter(tools []domain.ToolHandler, resources []domain.ResourceHandler) *RequestRouter {
	router := &RequestRouter{
		toolHandlers:     tools,
		resourceHandlers: resources,
		tools:            make(map[string]domain.ToolHandler),
		resources:        make(map[string]domain.ResourceHandler),
	}

	for _, handler := range tools {
		for _, tool := range handler.ListTools() {
			if _, exists := router.tools[tool.Name]; !exists {
				router.tools[tool.Name] = handler
			}
		}
	}
	for _, handler := range resources {
		for _, resource := range handler.ListResources() {
			if _, exists := router.resources[resource.URI]; !exists {
				router.resources[resource.URI] = handler
			}
		}
	}

	return router
}

// Route dispatches a tool request to the handler that declares the tool.
func (r *RequestRouter) Route(ctx context.Context, req *domain.ToolRequest) (*domain.ToolResponse, error) {
	handler, exists := r.tools[req.Name]
	if !exists {
		return nil, &domain.NotFoundError{Kind: domain.KindTool, Name: req.Name}
	}
	return handler.Handle(ctx, req)
}

// Query dispatches a resource query to the handler that declares the URI.
func (r *RequestRouter) Query(ctx context.Context, req *domain.QueryRequest) (*domain.QueryResponse, error) {
	handler, exists := r.resources[req.Resource]
	if !exists {
		return nil, &domain.NotFoundError{Kind: domain.KindResource, Name: req.Resource}
	}
	return handler.Query(ctx, req)
}

// ListAllTools aggregates tool descriptors in handler order.
// This is used for MCP tool discovery (tools/list method).
func (r *RequestRouter) ListAllTools() []domain.ToolDescriptor {
	allTools := []domain.ToolDescriptor{}
	for _, handler := range r.toolHandlers {
		allTools = append(allTools, handler.ListTools()...)
	}
	return allTools
}

// ListAllResources aggregates resource descriptors in handler order.
func (r *RequestRouter) ListAllResources() []domain.ResourceDescriptor {
	allResources := []domain.ResourceDescriptor{}
	for _, handler := range r.resourceHandlers {
		allResources = append(allResources, handler.ListResources()...)
	}
	return allResources
}
