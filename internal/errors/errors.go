package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Session errors (SESSION-001 to SESSION-099)
	ErrCodeNotLoggedIn      ErrorCode = "SESSION-001"
	ErrCodeSessionExpired   ErrorCode = "SESSION-002"
	ErrCodeAlreadyLoggedIn  ErrorCode = "SESSION-003"
	ErrCodeLoginFailed      ErrorCode = "SESSION-004"
	ErrCodeSessionStoreFail ErrorCode = "SESSION-005"

	// Tenant errors (TENANT-001 to TENANT-099)
	ErrCodeTenantRequired  ErrorCode = "TENANT-001"
	ErrCodeTenantForbidden ErrorCode = "TENANT-002"

	// Authorization errors (AUTHZ-001 to AUTHZ-099)
	ErrCodePermissionDenied ErrorCode = "AUTHZ-001"

	// Request errors (REQUEST-001 to REQUEST-099)
	ErrCodeRequestFailed   ErrorCode = "REQUEST-001"
	ErrCodeRequestRejected ErrorCode = "REQUEST-002"

	// Config errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigNotFound ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"
)

// StocktakeError is a user-facing error with a code, suggestions, and documentation
type StocktakeError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *StocktakeError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *StocktakeError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the code as a string so loggers can tag the entry
// without importing this package.
func (e *StocktakeError) ErrorCode() string {
	return string(e.Code)
}

// New creates a new StocktakeError
func New(code ErrorCode, message string) *StocktakeError {
	return &StocktakeError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new StocktakeError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *StocktakeError {
	return &StocktakeError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *StocktakeError) WithSuggestion(suggestion string) *StocktakeError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *StocktakeError) WithSuggestions(suggestions ...string) *StocktakeError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *StocktakeError) WithDocs(url string) *StocktakeError {
	e.DocsURL = url
	return e
}

// Common error constructors for frequently used errors

// NewNotLoggedInError is returned when a command needs a signed-in user
func NewNotLoggedInError() *StocktakeError {
	return New(ErrCodeNotLoggedIn, "not logged in").
		WithSuggestion("Run 'login <user> <password>' first").
		WithDocs("https://github.com/felixgeelhaar/stocktake#sessions")
}

// NewSessionExpiredError reports a terminated session and why it ended
func NewSessionExpiredError(reason string) *StocktakeError {
	return New(ErrCodeSessionExpired, reason).
		WithSuggestion("Log in again to start a new session")
}

// NewLoginFailedError wraps a failed sign-in
func NewLoginFailedError(user string, cause error) *StocktakeError {
	return Wrap(ErrCodeLoginFailed, fmt.Sprintf("login failed for %s", user), cause).
		WithSuggestion("Check the user name and password").
		WithSuggestion("Run 'stocktake doctor' to verify the identity provider is reachable")
}

// NewTenantRequiredError is returned when a superuser has not chosen a tenant
func NewTenantRequiredError() *StocktakeError {
	return New(ErrCodeTenantRequired, "select a tenant before reading tenant data").
		WithSuggestion("Run 'tenants' to list tenants").
		WithSuggestion("Run 'tenant select <id>' to choose one").
		WithDocs("https://github.com/felixgeelhaar/stocktake#tenants")
}

// NewTenantForbiddenError is returned when a role may not act on a tenant
func NewTenantForbiddenError(role, tenant string) *StocktakeError {
	return New(ErrCodeTenantForbidden, fmt.Sprintf("role %q may not act on tenant %s", role, tenant)).
		WithSuggestion("Ask a superuser to perform this action")
}

// NewPermissionDeniedError is returned for a denied authorization decision
func NewPermissionDeniedError(role, action string) *StocktakeError {
	return New(ErrCodePermissionDenied, fmt.Sprintf("role %q is not allowed to %s", role, action)).
		WithSuggestion("Run 'stocktake policy <role>' to see what a role may do")
}

// NewRequestFailedError wraps an outbound call that failed after its retry
func NewRequestFailedError(path string, cause error) *StocktakeError {
	return Wrap(ErrCodeRequestFailed, fmt.Sprintf("request failed: %s", path), cause).
		WithSuggestion("Check your network connection").
		WithSuggestion("Run 'stocktake doctor' to verify connectivity")
}

// NewConfigNotFoundError is returned when no configuration file exists
func NewConfigNotFoundError(path string) *StocktakeError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration not found: %s", path)).
		WithSuggestion("Run 'stocktake config init' to create one")
}

// NewConfigInvalidError reports a configuration validation failure
func NewConfigInvalidError(details string) *StocktakeError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'stocktake config view' to inspect the effective configuration").
		WithDocs("https://github.com/felixgeelhaar/stocktake#configuration")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *StocktakeError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *StocktakeError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
