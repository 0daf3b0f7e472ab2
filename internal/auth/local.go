package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/stocktake/internal/clock"
)

// LocalUser is a user the LocalProvider can sign in.
type LocalUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Email        string `yaml:"email"`
	Role         string `yaml:"role"`
	TenantID     string `yaml:"tenant_id,omitempty"`
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	// Issuer is the JWT issuer and audience.
	Issuer string

	// SigningKey signs HS256 access tokens. It must be shared with the
	// API server that verifies them.
	SigningKey []byte

	// TokenLifetime is the lifetime written into each access token.
	TokenLifetime time.Duration

	Users []LocalUser
	Clock clock.Clock
}

// LocalProvider is an identity provider backed by a static user list. It
// mints HS256 access tokens itself, so it suits single-site deployments
// and tests.
type LocalProvider struct {
	issuer   string
	key      []byte
	lifetime time.Duration
	clock    clock.Clock
	users    map[string]LocalUser

	mu        sync.RWMutex
	principal *Principal

	issued atomic.Int64
}

// NewLocalProvider validates cfg and returns a provider with nobody signed in.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, NewError(ErrProviderConfig, "signing key must be at least 32 bytes", nil)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "stocktake"
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	users := make(map[string]LocalUser, len(cfg.Users))
	for _, u := range cfg.Users {
		name := strings.ToLower(strings.TrimSpace(u.Username))
		if name == "" {
			return nil, NewError(ErrProviderConfig, "local user without a username", nil)
		}
		if _, dup := users[name]; dup {
			return nil, NewError(ErrProviderConfig, "duplicate local user", map[string]interface{}{"username": name})
		}
		users[name] = u
	}

	return &LocalProvider{
		issuer:   cfg.Issuer,
		key:      cfg.SigningKey,
		lifetime: cfg.TokenLifetime,
		clock:    cfg.Clock,
		users:    users,
	}, nil
}

// Name implements Authenticator.
func (p *LocalProvider) Name() string { return "local" }

// SignIn checks the password against the stored bcrypt hash.
func (p *LocalProvider) SignIn(_ context.Context, creds Credentials) (*Principal, error) {
	u, ok := p.users[strings.ToLower(strings.TrimSpace(creds.Username))]
	if !ok {
		return nil, NewError(ErrInvalidCredentials, "unknown user or wrong password", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, NewError(ErrInvalidCredentials, "unknown user or wrong password", nil)
	}

	principal := &Principal{
		UserID:   u.Username,
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.TenantID,
	}

	p.mu.Lock()
	p.principal = principal
	p.mu.Unlock()

	out := *principal
	return &out, nil
}

// SignOut forgets the current principal.
func (p *LocalProvider) SignOut() {
	p.mu.Lock()
	p.principal = nil
	p.mu.Unlock()
}

// CurrentPrincipal implements IdentityProvider.
func (p *LocalProvider) CurrentPrincipal(context.Context) (*Principal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.principal == nil {
		return nil, false
	}
	out := *p.principal
	return &out, true
}

// IssueToken mints a fresh token on every call; force makes no difference.
func (p *LocalProvider) IssueToken(ctx context.Context, principal Principal, _ bool) (Token, error) {
	current, ok := p.CurrentPrincipal(ctx)
	if !ok || current.UserID != principal.UserID {
		return Token{}, NewError(ErrNotAuthenticated, "principal is no longer signed in", map[string]interface{}{
			"user_id": principal.UserID,
		})
	}

	now := p.clock.Now()
	signed, err := signHS256(p.key, p.issuer, uuid.NewString(), *current, now, p.lifetime)
	if err != nil {
		return Token{}, err
	}
	p.issued.Add(1)
	return Token{Value: signed, IssuedAt: now, TTL: p.lifetime}, nil
}

// Verify validates a token minted by this provider. The bundled mock API
// server uses it to authenticate calls.
func (p *LocalProvider) Verify(raw string) (*Claims, error) {
	return verifyHS256(p.key, p.issuer, raw, p.clock.Now())
}

// Issued returns how many tokens have been minted.
func (p *LocalProvider) Issued() int64 { return p.issued.Load() }

// HashPassword returns a bcrypt hash suitable for LocalUser.PasswordHash.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", WrapError(ErrProviderConfig, "failed to hash password", err, nil)
	}
	return string(h), nil
}
