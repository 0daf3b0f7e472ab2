// Package exitcode maps command errors to process exit codes.
package exitcode

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// Exit codes for consistent error handling across the CLI
const (
	Success          = 0
	GeneralError     = 1
	UsageError       = 2 // bad flags or arguments
	ConfigError      = 3 // missing or invalid configuration
	PermissionDenied = 4 // role or tenant scope forbids the action
	AuthError        = 5 // not signed in, refresh failed, rejected, expired
	NetworkError     = 6
	Interrupted      = 130 // SIGINT, 128 + 2
)

// codedError is implemented by auth.AuthError and errors.StocktakeError.
type codedError interface {
	ErrorCode() string
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode picks an exit code from the error's code when it has
// one, then from its type, then from its message.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var coded codedError
	if errors.As(err, &coded) {
		if code, ok := fromCode(coded.ErrorCode()); ok {
			return code
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}

	return fromMessage(strings.ToLower(err.Error()))
}

func fromCode(code string) (int, bool) {
	switch {
	case code == "AUTH_PROVIDER_UNAVAILABLE", strings.HasPrefix(code, "REQUEST-"):
		return NetworkError, true
	case code == "AUTH_PROVIDER_CONFIG", strings.HasPrefix(code, "CONFIG-"):
		return ConfigError, true
	case strings.HasPrefix(code, "AUTH_"), strings.HasPrefix(code, "SESSION"):
		return AuthError, true
	case strings.HasPrefix(code, "AUTHZ-"), strings.HasPrefix(code, "TENANT-"):
		return PermissionDenied, true
	}
	return 0, false
}

func fromMessage(msg string) int {
	switch {
	case strings.Contains(msg, "unknown command"),
		strings.Contains(msg, "unknown flag"),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "accepts") && strings.Contains(msg, "arg"):
		return UsageError
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not signed in"):
		return AuthError
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"):
		return NetworkError
	}
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ConfigError:
		return "Configuration error"
	case PermissionDenied:
		return "Permission denied"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted by signal"
	default:
		return "Unknown error"
	}
}
