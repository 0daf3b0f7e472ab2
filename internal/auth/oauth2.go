package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/felixgeelhaar/stocktake/internal/clock"
)

// expiryDelta is how close to its expiry a provider token is still reused
// on a non-forced issuance.
const expiryDelta = 30 * time.Second

// OAuth2Config configures an OAuth2Provider.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// HTTPClient is used for token endpoint calls. It must not be the
	// pipeline client, which would try to authenticate its own refresh.
	HTTPClient *http.Client
	Clock      clock.Clock
}

// OAuth2Provider signs users in with the resource-owner password grant and
// issues access tokens through the refresh-token grant. The principal is
// read from the id_token returned with the grant, falling back to the
// access token when it is a JWT.
type OAuth2Provider struct {
	config *oauth2.Config
	client *http.Client
	clock  clock.Clock

	mu        sync.Mutex
	principal *Principal
	token     *oauth2.Token
}

// NewOAuth2Provider validates cfg.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, NewError(ErrProviderConfig, "oauth2 provider needs client_id and token_url", nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &OAuth2Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: cfg.HTTPClient,
		clock:  cfg.Clock,
	}, nil
}

// Name implements Authenticator.
func (p *OAuth2Provider) Name() string { return "oauth2" }

func (p *OAuth2Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// SignIn exchanges username and password for tokens.
func (p *OAuth2Provider) SignIn(ctx context.Context, creds Credentials) (*Principal, error) {
	tok, err := p.config.PasswordCredentialsToken(p.withClient(ctx), creds.Username, creds.Password)
	if err != nil {
		return nil, classify(err, "sign-in")
	}

	principal, err := principalFromGrant(tok)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.principal = principal
	p.token = tok
	p.mu.Unlock()

	out := *principal
	return &out, nil
}

// SignOut drops the principal and the refresh token.
func (p *OAuth2Provider) SignOut() {
	p.mu.Lock()
	p.principal = nil
	p.token = nil
	p.mu.Unlock()
}

// CurrentPrincipal implements IdentityProvider.
func (p *OAuth2Provider) CurrentPrincipal(context.Context) (*Principal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.principal == nil {
		return nil, false
	}
	out := *p.principal
	return &out, true
}

// IssueToken reuses the held access token unless force is set or it is
// about to expire; otherwise it runs the refresh-token grant.
func (p *OAuth2Provider) IssueToken(ctx context.Context, principal Principal, force bool) (Token, error) {
	p.mu.Lock()
	if p.principal == nil || p.token == nil || p.principal.UserID != principal.UserID {
		p.mu.Unlock()
		return Token{}, NewError(ErrNotAuthenticated, "principal is no longer signed in", nil)
	}
	held := p.token
	now := p.clock.Now()
	if !force && p.usable(held, now) {
		p.mu.Unlock()
		return p.toToken(held, now), nil
	}
	p.mu.Unlock()

	if held.RefreshToken == "" {
		return Token{}, NewError(ErrInvalidCredentials, "no refresh token; sign in again", nil)
	}

	// The grant runs unlocked so CurrentPrincipal never waits on the network.
	// A seed without an access token makes the token source go to the endpoint.
	seed := &oauth2.Token{RefreshToken: held.RefreshToken}
	fresh, err := p.config.TokenSource(p.withClient(ctx), seed).Token()
	if err != nil {
		return Token{}, classify(err, "refresh")
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = held.RefreshToken
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Signed out or replaced while the grant was in flight.
	if p.token != held || p.principal == nil || p.principal.UserID != principal.UserID {
		return Token{}, NewError(ErrNotAuthenticated, "principal signed out during refresh", nil)
	}
	if next, err := principalFromGrant(fresh); err == nil && next.UserID == principal.UserID {
		p.principal = next
	}
	p.token = fresh
	return p.toToken(fresh, now), nil
}

func (p *OAuth2Provider) usable(t *oauth2.Token, now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Add(expiryDelta).Before(t.Expiry)
}

func (p *OAuth2Provider) toToken(t *oauth2.Token, now time.Time) Token {
	out := Token{Value: t.AccessToken, IssuedAt: now}
	if t.Expiry.IsZero() {
		return out
	}
	out.TTL = t.Expiry.Sub(now) - expiryDelta
	if out.TTL <= 0 {
		out.TTL = t.Expiry.Sub(now)
	}
	if out.TTL <= 0 {
		// Already expired: usable for no time at all.
		out.TTL = time.Nanosecond
	}
	return out
}

func principalFromGrant(tok *oauth2.Token) (*Principal, error) {
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		return PrincipalFromToken(idToken)
	}
	return PrincipalFromToken(tok.AccessToken)
}

// classify maps token endpoint failures to auth codes. A 4xx from the
// endpoint is a credential problem; anything else means the provider is
// unavailable.
func classify(err error, op string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return WrapError(ErrInvalidCredentials, op+" rejected by identity provider", err, map[string]interface{}{
			"status":     re.Response.StatusCode,
			"error_code": re.ErrorCode,
		})
	}
	return WrapError(ErrProviderUnavailable, op+" failed", err, nil)
}
