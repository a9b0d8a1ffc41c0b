package domain

import (
	"errors"
	"net/http"
)

// MapError converts any error raised while serving a request to a JSON-RPC
// error object. Typed errors keep their machine tag in Data.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}

	// Already a protocol error
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return &Error{Code: MethodNotFound, Message: notFound.Error(), Data: ErrorBody(err)}
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return &Error{Code: InvalidParams, Message: validation.Error(), Data: ErrorBody(err)}
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return mapUpstreamError(upstream)
	}

	var dateRange *DateRangeError
	if errors.As(err, &dateRange) {
		return &Error{Code: ConfigurationError, Message: dateRange.Error(), Data: ErrorBody(err)}
	}

	// Default to internal error for unknown error types
	return &Error{
		Code:    InternalError,
		Message: err.Error(),
	}
}

// mapUpstreamError maps the upstream HTTP status to a JSON-RPC error code.
func mapUpstreamError(upstream *UpstreamError) *Error {
	var code int

	switch upstream.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = AuthenticationError
	case http.StatusTooManyRequests:
		code = RateLimitError
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = NetworkError
	default:
		code = APIError
	}

	return &Error{
		Code:    code,
		Message: upstream.Message,
		Data:    ErrorBody(upstream),
	}
}

// ErrorBody renders the {type, message} object that accompanies every error
// response. Upstream errors additionally carry statusCode and payload.
func ErrorBody(err error) map[string]interface{} {
	var typed TypedError
	if !errors.As(err, &typed) {
		return map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		}
	}

	body := map[string]interface{}{
		"type":    typed.ErrorType(),
		"message": typed.Error(),
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		body["message"] = upstream.Message
		if upstream.StatusCode != 0 {
			body["statusCode"] = upstream.StatusCode
		}
		if upstream.Payload != nil {
			body["payload"] = upstream.Payload
		}
	}
	return body
}

// HTTPStatusFor returns the HTTP status a REST endpoint answers with for err.
func HTTPStatusFor(err error) int {
	var typed TypedError
	if errors.As(err, &typed) {
		return typed.HTTPStatus()
	}
	return http.StatusInternalServerError
}
