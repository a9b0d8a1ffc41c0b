package domain

import "context"

// Gateway is the upstream boundary: one authenticated Bitrix24 REST call.
// Implementations retry transient transport failures, never business errors,
// and return *UpstreamError for anything that is not a well-formed result.
type Gateway interface {
	// Call invokes a REST method and returns the decoded response body,
	// which always contains a "result" key.
	Call(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error)

// Call implements Gateway.
func (f GatewayFunc) Call(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, method, payload)
}
