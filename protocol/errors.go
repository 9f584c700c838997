package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes of the closed BAP taxonomy.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeRateLimited = -32000

	CodeNotInitialized     = -32001
	CodeAlreadyInitialized = -32002
	CodeBrowserNotLaunched = -32003

	CodeElementNotFound   = -32010
	CodeElementNotVisible = -32011
	CodeElementNotEnabled = -32012
	CodeSelectorAmbiguous = -32013

	CodeNavigationFailed = -32020
	CodeTimeout          = -32021
	CodeTargetClosed     = -32022
	CodeUnauthorized     = -32023

	CodeExecutionContextDestroyed = -32024

	CodeContextNotFound       = -32030
	CodeResourceLimitExceeded = -32031

	CodeApprovalRequired = -32040
	CodeApprovalDenied   = -32041
	CodeApprovalTimeout  = -32042

	CodeFrameNotFound         = -32050
	CodeFrameDomainNotAllowed = -32051

	CodeStreamNotFound  = -32060
	CodeStreamCancelled = -32061
)

// ErrorData is the machine-readable payload attached to every BAP error.
type ErrorData struct {
	Retryable    bool           `json:"retryable"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Error is a first-class wire object and implements the error interface so
// handlers can return it directly.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("BAP error %d: %s", e.Code, e.Message)
}

// NewError creates a non-retryable error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message, Data: &ErrorData{}}
}

// NewRetryableError creates a retryable error with an optional retry hint.
func NewRetryableError(code int, message string, retryAfterMs int64) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    &ErrorData{Retryable: true, RetryAfterMs: retryAfterMs},
	}
}

// WithDetails attaches a details map and returns the error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Data == nil {
		e.Data = &ErrorData{}
	}
	e.Data.Details = details
	return e
}

// Retryable reports whether a client may retry a request that failed with e.
func (e *Error) Retryable() bool {
	return e.Data != nil && e.Data.Retryable
}

// Canonical constructors. The message is the canonical sentence for the
// class; callers needing the raw engine message use FromEngineError.

func ErrParse() *Error {
	return NewError(CodeParseError, "Invalid JSON-RPC message")
}

func ErrInvalidRequest(msg string) *Error {
	return NewError(CodeInvalidRequest, msg)
}

func ErrMethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "Method not found").
		WithDetails(map[string]any{"method": method})
}

func ErrInvalidParams(msg string) *Error {
	return NewError(CodeInvalidParams, msg)
}

func ErrInternal() *Error {
	return NewError(CodeInternalError, "Internal error")
}

func ErrNotInitialized() *Error {
	return NewError(CodeNotInitialized, "Session not initialized")
}

func ErrAlreadyInitialized() *Error {
	return NewError(CodeAlreadyInitialized, "Session already initialized")
}

func ErrBrowserNotLaunched() *Error {
	return NewError(CodeBrowserNotLaunched, "Browser not launched")
}

func ErrUnauthorized(method string, requiredScopes []string) *Error {
	return NewError(CodeUnauthorized, "Insufficient scope").WithDetails(map[string]any{
		"method":         method,
		"requiredScopes": requiredScopes,
	})
}

func ErrRateLimited(dimension string, retryAfterMs int64) *Error {
	e := NewRetryableError(CodeRateLimited, "Rate limit exceeded", retryAfterMs)
	return e.WithDetails(map[string]any{"dimension": dimension})
}

func ErrElementNotFound(selector string) *Error {
	e := NewRetryableError(CodeElementNotFound, "Element not found", 0)
	return e.WithDetails(map[string]any{"selector": selector})
}

func ErrTargetClosed() *Error {
	return NewError(CodeTargetClosed, "Target closed")
}

func ErrTimeout(msg string) *Error {
	if msg == "" {
		msg = "Operation timed out"
	}
	return NewRetryableError(CodeTimeout, msg, 0)
}

func ErrContextNotFound(id string) *Error {
	return NewError(CodeContextNotFound, "Context not found").
		WithDetails(map[string]any{"contextId": id})
}

func ErrResourceLimit(resource string, limit int) *Error {
	return NewError(CodeResourceLimitExceeded, "Resource limit exceeded").
		WithDetails(map[string]any{"resource": resource, "limit": limit})
}

func ErrFrameNotFound(id string) *Error {
	return NewError(CodeFrameNotFound, "Frame not found").
		WithDetails(map[string]any{"frameId": id})
}

func ErrStreamNotFound(id string) *Error {
	return NewError(CodeStreamNotFound, "Stream not found").
		WithDetails(map[string]any{"streamId": id})
}

func ErrApprovalDenied(reason string) *Error {
	return NewError(CodeApprovalDenied, "Request denied").
		WithDetails(map[string]any{"reason": reason})
}

func ErrApprovalTimeout() *Error {
	return NewError(CodeApprovalTimeout, "Approval timed out")
}

// AsError extracts a *Error from err, or wraps it as an internal error. The
// internal wrapping never leaks err's text to the wire; callers are expected
// to log the original.
func AsError(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return ErrInternal()
}

// FromEngineError maps an engine-native error to a canonical BAP error by
// message substring, keeping the raw engine message for the target, timeout
// and element classes where it is safe to show.
func FromEngineError(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	// Wait failures embed "timeout", so the element-state cases must be
	// checked before the generic timeout case.
	case strings.Contains(lower, "not visible"),
		strings.Contains(lower, "waiting for") && strings.Contains(lower, "to be visible"):
		return NewRetryableError(CodeElementNotVisible, msg, 0)
	case strings.Contains(lower, "not enabled"),
		strings.Contains(lower, "waiting for") && strings.Contains(lower, "to be enabled"):
		return NewRetryableError(CodeElementNotEnabled, msg, 0)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return NewRetryableError(CodeTimeout, msg, 0)
	case strings.Contains(lower, "target closed") || strings.Contains(lower, "target crashed"):
		return NewError(CodeTargetClosed, msg)
	case strings.Contains(lower, "execution context was destroyed"):
		return NewError(CodeExecutionContextDestroyed, msg)
	case strings.Contains(lower, "strict mode violation") || strings.Contains(lower, "resolved to") && strings.Contains(lower, "elements"):
		return NewRetryableError(CodeSelectorAmbiguous, msg, 0)
	case strings.Contains(lower, "no node found") || strings.Contains(lower, "could not find node") || strings.Contains(lower, "element not found"):
		return NewRetryableError(CodeElementNotFound, msg, 0)
	case strings.Contains(lower, "net::") || strings.Contains(lower, "ns_error") || strings.Contains(lower, "navigation failed"):
		return NewRetryableError(CodeNavigationFailed, msg, 1000)
	default:
		return ErrInternal()
	}
}
