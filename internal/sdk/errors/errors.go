// Package errors provides SDK error types without CLI-specific hints.
// The CLI layer wraps these with user-facing hints.
package errors

import (
	"errors"
	"fmt"
)

// Error is a structured error for token and request operations.
type Error struct {
	Code       string // Error code (e.g., "connection", "auth_failed")
	Message    string // Error message, never contains credentials
	HTTPStatus int    // HTTP status code if applicable
	Retryable  bool   // Whether the operation can be retried
	Cause      error  // Underlying error

	// Body is the raw response body that caused the error, if any.
	Body []byte
	// Decoded is a best-effort decoding of Body.
	Decoded map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil && (e.Code == CodeConnection || e.Code == CodeCache) {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	CodeConnection = "connection"
	CodeAuth       = "auth_failed"
	CodeConfig     = "config"
	CodeCache      = "cache"
	CodeUsage      = "usage"
)

// Error constructors.

// ErrConnection creates a connection error wrapping the transport failure.
func ErrConnection(cause error) *Error {
	return &Error{
		Code:    CodeConnection,
		Message: "Connection error",
		Cause:   cause,
	}
}

// ErrAuth creates an authentication error carrying the offending response.
func ErrAuth(msg string, status int, body []byte, decoded map[string]any) *Error {
	return &Error{
		Code:       CodeAuth,
		Message:    msg,
		HTTPStatus: status,
		Body:       body,
		Decoded:    decoded,
	}
}

// ErrConfig creates a configuration error.
func ErrConfig(msg string) *Error {
	return &Error{Code: CodeConfig, Message: msg}
}

// ErrCache creates a token store error.
func ErrCache(msg string, cause error) *Error {
	return &Error{Code: CodeCache, Message: msg, Cause: cause}
}

// ErrUsage creates a usage error.
func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return hasCode(err, CodeConnection) }

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool { return hasCode(err, CodeAuth) }

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return hasCode(err, CodeConfig) }

// IsCache reports whether err is a token store error.
func IsCache(err error) bool { return hasCode(err, CodeCache) }

func hasCode(err error, code string) bool {
	e := As(err)
	return e != nil && e.Code == code
}

// Describe returns a short, credential-free description of e for logs.
func Describe(e *Error) string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}
