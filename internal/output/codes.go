// Package output provides JSON and styled output formatting and error handling.
package output

import sdkerrors "github.com/basecamp/tokenkit/internal/sdk/errors"

// Exit codes.
const (
	ExitOK      = 0 // Success
	ExitUsage   = 1 // Invalid arguments or flags
	ExitConfig  = 2 // Missing or invalid configuration
	ExitAuth    = 3 // Token could not be obtained, or the API kept rejecting it
	ExitCache   = 4 // Token store unavailable or inconsistent
	ExitNetwork = 6 // Connection/DNS/timeout error
	ExitAPI     = 7 // Server returned error
)

// Error codes for JSON envelope. Codes shared with the library match its
// error codes.
const (
	CodeUsage   = sdkerrors.CodeUsage
	CodeConfig  = sdkerrors.CodeConfig
	CodeAuth    = sdkerrors.CodeAuth
	CodeCache   = sdkerrors.CodeCache
	CodeNetwork = sdkerrors.CodeConnection
	CodeAPI     = "api_error"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeConfig:
		return ExitConfig
	case CodeAuth:
		return ExitAuth
	case CodeCache:
		return ExitCache
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
