package auth

import (
	"errors"
	"fmt"
)

// Error codes for authentication failures
const (
	// ErrNotAuthenticated means no principal is signed in. Never retried.
	ErrNotAuthenticated = "AUTH_NOT_AUTHENTICATED"
	// ErrRefreshFailed means the identity provider failed to issue a token.
	ErrRefreshFailed = "AUTH_REFRESH_FAILED"
	// ErrAuthRejected means the server answered unauthorized after the
	// pipeline's single forced-refresh retry.
	ErrAuthRejected = "AUTH_REJECTED"
	// ErrRemoteUpdateFailed marks a best-effort session-store write that
	// failed. It is logged and never surfaced.
	ErrRemoteUpdateFailed = "SESSION_REMOTE_UPDATE_FAILED"

	// Provider errors
	ErrInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	ErrProviderUnavailable = "AUTH_PROVIDER_UNAVAILABLE"
	ErrProviderConfig      = "AUTH_PROVIDER_CONFIG"

	// Token errors
	ErrTokenInvalid       = "AUTH_TOKEN_INVALID"
	ErrTokenMalformed     = "AUTH_TOKEN_MALFORMED"
	ErrTokenSigningFailed = "AUTH_TOKEN_SIGNING_FAILED"
)

// AuthError represents an authentication error with code and context.
type AuthError struct {
	// Code is the error code (e.g., AUTH_REFRESH_FAILED)
	Code string

	// Message is a human-readable error message
	Message string

	// Context provides additional details about the error
	Context map[string]interface{}

	// Cause is the underlying error that caused this error
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns Code.
func (e *AuthError) ErrorCode() string {
	return e.Code
}

// NewError creates a new AuthError.
func NewError(code, message string, context map[string]interface{}) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// WrapError wraps an existing error with an AuthError.
func WrapError(code, message string, cause error, context map[string]interface{}) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Context: context,
		Cause:   cause,
	}
}

// IsAuthError reports whether err, or any error it wraps, is an AuthError
// with the given code.
func IsAuthError(err error, code string) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code == code
	}
	return false
}

// Code returns the AuthError code found in err's chain, or "".
func Code(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}
