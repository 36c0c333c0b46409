package output

import (
	"errors"
	"fmt"

	sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// Hints attached to library errors, by code.
var hints = map[string]string{
	CodeAuth:   "Check provider.credentials, or run: tokenkit token refresh",
	CodeConfig: "Run: tokenkit config show",
	CodeCache:  "Check store.backend and store.dir, or use --store memory",
}

// AsError attempts to convert an error to an *Error. Library errors keep
// their code and status and gain a hint.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if se := sdkerrors.As(err); se != nil {
		out := &Error{
			Code:       se.Code,
			Message:    se.Message,
			Hint:       hints[se.Code],
			HTTPStatus: se.HTTPStatus,
			Retryable:  se.Retryable,
			Cause:      err,
		}
		if se.Code == sdkerrors.CodeConnection && se.Cause != nil {
			out.Hint = se.Cause.Error()
			out.Retryable = true
		}
		if se.Code == sdkerrors.CodeCache {
			out.Message = se.Error()
		}
		return out
	}

	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
