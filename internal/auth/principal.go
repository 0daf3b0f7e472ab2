// Package auth provides the identity side of the session core: the signed-in
// principal, short-lived access tokens, the TokenCache that hands them out,
// and the identity providers that issue them.
package auth

import (
	"context"
	"time"
)

// DefaultTokenTTL is how long a cached token is used before a refresh.
// It is kept below typical provider lifetimes to avoid edge-of-expiry use.
const DefaultTokenTTL = 55 * time.Minute

// Principal is the currently authenticated identity.
type Principal struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Token is an access token and the window in which it may be used.
// Tokens live only in memory.
type Token struct {
	Value    string
	IssuedAt time.Time

	// TTL is the usable lifetime. Zero means the issuer did not bound it.
	TTL time.Duration
}

// ValidAt reports whether the token may be used at now.
func (t Token) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Sub(t.IssuedAt) < t.TTL
}

// Credentials are what a user types to sign in.
type Credentials struct {
	Username string
	Password string
}

// IdentityProvider is the narrow surface the TokenCache depends on.
type IdentityProvider interface {
	// CurrentPrincipal returns the signed-in principal, if any.
	CurrentPrincipal(ctx context.Context) (*Principal, bool)

	// IssueToken returns an access token for p. With force set the
	// provider must contact its backend instead of reusing anything.
	IssueToken(ctx context.Context, p Principal, force bool) (Token, error)
}

// Authenticator is an IdentityProvider that users can sign in to.
type Authenticator interface {
	IdentityProvider

	// SignIn verifies credentials and makes the principal current.
	SignIn(ctx context.Context, creds Credentials) (*Principal, error)

	// SignOut forgets the current principal and any provider tokens.
	SignOut()

	// Name identifies the provider kind in logs and diagnostics.
	Name() string
}
