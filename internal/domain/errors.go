package domain

import (
	"fmt"
	"net/http"
)

// Stable machine-readable error type tags.
const (
	ErrorTypeUpstream         = "upstream_error"
	ErrorTypeResourceNotFound = "resource_not_found"
	ErrorTypeToolNotFound     = "tool_not_found"
	ErrorTypeValidation       = "validation_error"
	ErrorTypeDateRange        = "date_range_error"
)

// TypedError is implemented by every error the core raises on purpose.
// Transports use it to render {type, message} bodies and pick status codes.
type TypedError interface {
	error
	ErrorType() string
	HTTPStatus() int
}

// UpstreamError is returned by the Gateway when Bitrix24 answers with a
// non-2xx status, a malformed body, an explicit error field or a body
// without a result.
type UpstreamError struct {
	Message    string
	StatusCode int
	Payload    interface{}
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bitrix24 error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bitrix24 error: %s", e.Message)
}

// ErrorType implements TypedError.
func (e *UpstreamError) ErrorType() string { return ErrorTypeUpstream }

// HTTPStatus implements TypedError.
func (e *UpstreamError) HTTPStatus() int { return http.StatusBadGateway }

// NotFoundKind distinguishes unknown resources from unknown tools.
type NotFoundKind string

const (
	KindResource NotFoundKind = "resource"
	KindTool     NotFoundKind = "tool"
)

// NotFoundError reports an identifier that is not registered.
type NotFoundError struct {
	Kind NotFoundKind
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Kind == KindTool {
		return fmt.Sprintf("Tool '%s' is not registered.", e.Name)
	}
	return fmt.Sprintf("Resource '%s' is not registered.", e.Name)
}

// ErrorType implements TypedError.
func (e *NotFoundError) ErrorType() string {
	if e.Kind == KindTool {
		return ErrorTypeToolNotFound
	}
	return ErrorTypeResourceNotFound
}

// HTTPStatus implements TypedError.
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// ValidationError reports missing or malformed caller parameters.
// It is raised before any upstream call is made.
type ValidationError struct {
	Message string
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Message }

// ErrorType implements TypedError.
func (e *ValidationError) ErrorType() string { return ErrorTypeValidation }

// HTTPStatus implements TypedError.
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// DateRangeError is raised for an unknown range kind or an unresolvable timezone.
type DateRangeError struct {
	Message string
}

func (e *DateRangeError) Error() string { return e.Message }

// ErrorType implements TypedError.
func (e *DateRangeError) ErrorType() string { return ErrorTypeDateRange }

// HTTPStatus implements TypedError.
func (e *DateRangeError) HTTPStatus() int { return http.StatusInternalServerError }
