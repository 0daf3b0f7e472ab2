package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/stocktake/internal/clock"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/metrics"
	"github.com/felixgeelhaar/stocktake/internal/telemetry"
)

// TokenCache hands out the current access token and refreshes it from an
// IdentityProvider when it is missing, older than its TTL, or when the
// caller forces a refresh.
//
// Reads of a valid token take no cache lock and never issue a token. Provider
// calls are strictly sequential: concurrent callers that need a refresh of
// the same kind share one in-flight call, and a non-forced caller that
// queued behind any other refresh re-checks the cache before issuing its own.
//
// A cached token belongs to the principal it was issued for and is never
// handed out once a different principal is signed in.
type TokenCache struct {
	provider IdentityProvider
	ttl      time.Duration
	clock    clock.Clock
	logger   *log.Logger
	metrics  *metrics.Metrics

	current atomic.Pointer[entry]

	// storeMu orders Clear against the store at the end of a refresh.
	// epoch is bumped by Clear; a refresh that started under an older
	// epoch does not cache its result.
	storeMu sync.Mutex
	epoch   uint64

	flights   singleflight.Group
	refreshMu sync.Mutex
}

// entry is a cached token and the user it was issued for.
type entry struct {
	token  Token
	userID string
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *TokenCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) CacheOption {
	return func(c *TokenCache) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) CacheOption {
	return func(c *TokenCache) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *TokenCache) { c.metrics = m }
}

// NewTokenCache creates an empty cache in front of provider.
func NewTokenCache(provider IdentityProvider, opts ...CacheOption) *TokenCache {
	c := &TokenCache{
		provider: provider,
		ttl:      DefaultTokenTTL,
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDefault(c.logger).With("component", "token_cache")
	return c
}

// Token returns a usable access token.
//
// It fails with ErrNotAuthenticated when no principal is signed in, before
// any refresh is attempted, and with ErrRefreshFailed when the provider
// fails; in that case the cache is emptied.
func (c *TokenCache) Token(ctx context.Context, force bool) (Token, error) {
	p, ok := c.provider.CurrentPrincipal(ctx)
	if !ok || p == nil {
		c.metrics.RecordTokenRequest(force, metrics.ResultNotAuthenticated)
		return Token{}, NewError(ErrNotAuthenticated, "no principal is signed in", nil)
	}

	if !force {
		if t, ok := c.valid(p.UserID); ok {
			c.metrics.RecordTokenRequest(false, metrics.ResultCacheHit)
			return t, nil
		}
	}

	key := "refresh:" + p.UserID
	if force {
		key = "force:" + p.UserID
	}
	principal := *p
	ch := c.flights.DoChan(key, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx), principal, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// Cached returns the cached token if it is still valid and was issued for
// the principal currently signed in.
func (c *TokenCache) Cached() (Token, bool) {
	p, ok := c.provider.CurrentPrincipal(context.Background())
	if !ok || p == nil {
		return Token{}, false
	}
	return c.valid(p.UserID)
}

// Clear evicts the cached token. A refresh in flight when Clear is called
// completes but its result is discarded.
func (c *TokenCache) Clear() {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.epoch++
	c.current.Store(nil)
}

func (c *TokenCache) valid(userID string) (Token, bool) {
	e := c.current.Load()
	if e == nil || e.userID != userID || !e.token.ValidAt(c.clock.Now()) {
		return Token{}, false
	}
	return e.token, true
}

func (c *TokenCache) currentEpoch() uint64 {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	return c.epoch
}

func (c *TokenCache) refresh(ctx context.Context, p Principal, force bool) (Token, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another refresh may have completed while we waited for the lock.
	if !force {
		if t, ok := c.valid(p.UserID); ok {
			c.metrics.RecordTokenRequest(false, metrics.ResultCacheHit)
			return t, nil
		}
	}

	epoch := c.currentEpoch()
	ctx, span := telemetry.StartTokenSpan(ctx, force)
	defer span.End()

	start := c.clock.Now()
	issued, err := c.provider.IssueToken(ctx, p, force)
	c.metrics.ObserveRefresh(force, err == nil, c.clock.Now().Sub(start))

	if err != nil {
		c.invalidate(epoch)
		telemetry.RecordError(span, err)
		c.metrics.RecordTokenRequest(force, metrics.ResultRefreshFailed)
		c.logger.WithError(err).Warn("token refresh failed", "user_id", p.UserID, "force", force)
		return Token{}, WrapError(ErrRefreshFailed, "identity provider did not issue a token", err, map[string]interface{}{
			"user_id": p.UserID,
			"force":   force,
		})
	}

	t := c.normalize(issued, start)
	if !c.storeIf(epoch, &entry{token: t, userID: p.UserID}) {
		c.metrics.RecordTokenRequest(force, metrics.ResultDiscarded)
		c.logger.Debug("discarding token refreshed across a clear", "user_id", p.UserID)
		return Token{}, NewError(ErrNotAuthenticated, "session was cleared during token refresh", nil)
	}

	telemetry.RecordSuccess(span)
	c.metrics.RecordTokenRequest(force, metrics.ResultRefreshed)
	c.logger.Debug("token refreshed", "user_id", p.UserID, "force", force, "ttl", t.TTL)
	return t, nil
}

// normalize fills in the issuance time and caps the TTL at the cache TTL.
func (c *TokenCache) normalize(t Token, requestedAt time.Time) Token {
	if t.IssuedAt.IsZero() {
		t.IssuedAt = requestedAt
	}
	if t.TTL <= 0 || t.TTL > c.ttl {
		t.TTL = c.ttl
	}
	return t
}

func (c *TokenCache) storeIf(epoch uint64, e *entry) bool {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.current.Store(e)
	return true
}

func (c *TokenCache) invalidate(epoch uint64) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if c.epoch == epoch {
		c.current.Store(nil)
	}
}
