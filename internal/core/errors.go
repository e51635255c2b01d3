// Package core provides the error taxonomy and request-scoped helpers shared
// by every tool endpoint.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeRateLimit indicates too many requests from one client (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypePayloadTooLarge indicates an exhausted upload quota or an oversized upload (413)
	ErrorTypePayloadTooLarge ErrorType = "payload_too_large_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeInternal indicates a server-side failure (500)
	ErrorTypeInternal ErrorType = "internal_error"
)

// ToolError is the base error type for everything a tool endpoint reports
// back to the caller.
type ToolError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Tool is the slug of the tool that failed, if any.
	Tool string `json:"tool,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ToolError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Tool, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ToolError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ToolError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *ToolError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// WithTool returns a copy of the error attributed to the given tool.
func (e *ToolError) WithTool(tool string) *ToolError {
	cp := *e
	cp.Tool = tool
	return &cp
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ToolError {
	return &ToolError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *ToolError {
	return &ToolError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(message string) *ToolError {
	return &ToolError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewPayloadTooLargeError creates a new payload too large error (413)
func NewPayloadTooLargeError(message string) *ToolError {
	return &ToolError{
		Type:       ErrorTypePayloadTooLarge,
		Message:    message,
		StatusCode: http.StatusRequestEntityTooLarge,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *ToolError {
	return &ToolError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInternalError creates a new internal error (500). The wrapped error is
// logged but never shown to the client.
func NewInternalError(message string, err error) *ToolError {
	return &ToolError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
