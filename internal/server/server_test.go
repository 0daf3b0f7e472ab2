package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/health"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/platform"
	"github.com/felixgeelhaar/stocktake/internal/remotestore"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
	"github.com/felixgeelhaar/stocktake/internal/transport"
)

var signingKey = []byte("0123456789abcdef0123456789abcdef")

func users(t *testing.T) []auth.LocalUser {
	t.Helper()
	hash, err := auth.HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)
	return []auth.LocalUser{
		{Username: "ana", PasswordHash: hash, Email: "ana@acme.test", Role: "admin", TenantID: "acme"},
		{Username: "root", PasswordHash: hash, Email: "root@ops.test", Role: "superuser"},
		{Username: "gus", PasswordHash: hash, Email: "gus@acme.test", Role: "guest", TenantID: "ACME"},
	}
}

// revoking rejects specific tokens so tests can force the retry path.
type revoking struct {
	TokenVerifier
	mu      sync.Mutex
	revoked map[string]bool
}

func (r *revoking) revoke(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[raw] = true
}

func (r *revoking) Verify(raw string) (*auth.Claims, error) {
	r.mu.Lock()
	bad := r.revoked[raw]
	r.mu.Unlock()
	if bad {
		return nil, auth.NewError(auth.ErrTokenInvalid, "revoked", nil)
	}
	return r.TokenVerifier.Verify(raw)
}

type env struct {
	srv      *httptest.Server
	pm       *health.ProbeManager
	verifier *revoking
	sessions *remotestore.MemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	serverSide, err := auth.NewLocalProvider(auth.LocalConfig{SigningKey: signingKey, Users: users(t)})
	require.NoError(t, err)

	e := &env{
		pm:       health.NewProbeManager("test"),
		verifier: &revoking{TokenVerifier: serverSide, revoked: map[string]bool{}},
		sessions: remotestore.NewMemoryStore(),
	}
	api := NewAPI(APIConfig{
		Verifier: e.verifier,
		Sessions: e.sessions,
		Tenants:  DemoTenants,
		Items:    DemoItems,
		Logger:   log.Discard(),
	})
	e.srv = httptest.NewServer(NewServer(e.pm, Config{}, api).Handler())
	t.Cleanup(e.srv.Close)
	return e
}

type device struct {
	provider *auth.LocalProvider
	tokens   *auth.TokenCache
	tenant   *tenant.Context
	client   *platform.Client
}

func (e *env) login(t *testing.T, username string) *device {
	t.Helper()
	p, err := auth.NewLocalProvider(auth.LocalConfig{SigningKey: signingKey, Users: users(t)})
	require.NoError(t, err)
	principal, err := p.SignIn(context.Background(), auth.Credentials{Username: username, Password: "secret"})
	require.NoError(t, err)

	d := &device{provider: p, tokens: auth.NewTokenCache(p), tenant: tenant.New()}
	d.tenant.SetSuperuser(principal.Role == "superuser")
	pipe := transport.New(d.tokens, d.tenant, transport.WithBase(e.srv.Client().Transport))
	d.client = platform.NewClient(e.srv.URL, pipe.Client(5*time.Second))
	return d
}

func TestProbes(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/health/startup", http.StatusServiceUnavailable},
		{"/health/ready", http.StatusOK},
	}
	for _, tt := range tests {
		resp, err := http.Get(e.srv.URL + tt.path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, tt.path)
	}

	e.pm.MarkInitialized()
	resp, err := http.Get(e.srv.URL + "/health/startup")
	require.NoError(t, err)
	var body health.ProbeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, health.StatusHealthy, body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestServeAndShutdown(t *testing.T) {
	pm := health.NewProbeManager("test")
	s := NewServer(pm, Config{ShutdownTimeout: time.Second}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	require.Eventually(t, pm.IsInitialized, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, s.IsShuttingDown())
	assert.NoError(t, <-errc)
}

func TestUnauthenticated(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/api/v1/users/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminIsScopedToOwnTenant(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "ana")
	ctx := context.Background()

	me, err := d.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana", me.ID)
	assert.Equal(t, "admin", me.Role)

	tenants, err := d.client.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "ACME", tenants[0].ID)

	var out struct {
		Tenant string          `json:"tenant"`
		Items  []platform.Item `json:"items"`
	}
	require.NoError(t, d.client.Get(ctx, "/api/v1/items", &out))
	assert.Equal(t, "ACME", out.Tenant)
	assert.Len(t, out.Items, 2)
}

func TestSuperuserNeedsTenantSelection(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "root")
	ctx := context.Background()

	tenants, err := d.client.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	err = d.client.Get(ctx, "/api/v1/items", nil)
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	d.tenant.SelectTenant(" globex ")
	out, err := d.client.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, "GLOBEX", out.Tenant)
	assert.Len(t, out.Items, 1)
}

func TestGuestCannotReadMasterData(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "gus")

	err := d.client.Get(context.Background(), "/api/v1/items", nil)
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestSessionDocument(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "ana")
	ctx := context.Background()

	require.NoError(t, d.client.SetSessionID(ctx, "ana", "s-42"))
	sid, _ := e.sessions.SessionID(ctx, "ana")
	assert.Equal(t, "s-42", sid)

	var doc platform.SessionDocument
	require.NoError(t, d.client.Get(ctx, "/api/v1/users/ana/session", &doc))
	assert.Equal(t, "s-42", doc.SessionID)

	require.NoError(t, d.client.ClearSessionID(ctx, "ana"))
	sid, _ = e.sessions.SessionID(ctx, "ana")
	assert.Empty(t, sid)

	err := d.client.SetSessionID(ctx, "root", "hijack")
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestRevokedTokenIsRefreshedOnce(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "ana")
	ctx := context.Background()

	_, err := d.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	first, ok := d.tokens.Cached()
	require.True(t, ok)
	e.verifier.revoke(first.Value)

	_, err = d.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	second, _ := d.tokens.Cached()
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, int64(2), d.provider.Issued())
}

func TestSignedOutDeviceIsRejected(t *testing.T) {
	e := newEnv(t)
	d := e.login(t, "ana")
	d.provider.SignOut()

	_, err := d.client.GetCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, auth.IsAuthError(err, auth.ErrNotAuthenticated))
}

func TestRateLimitIsPerUser(t *testing.T) {
	serverSide, err := auth.NewLocalProvider(auth.LocalConfig{SigningKey: signingKey, Users: users(t)})
	require.NoError(t, err)
	api := NewAPI(APIConfig{
		Verifier:  serverSide,
		Sessions:  remotestore.NewMemoryStore(),
		Tenants:   DemoTenants,
		Logger:    log.Discard(),
		RateLimit: rate.Every(time.Hour),
		RateBurst: 2,
	})
	e := &env{srv: httptest.NewServer(api)}
	t.Cleanup(e.srv.Close)
	ctx := context.Background()

	ana := e.login(t, "ana")
	_, err = ana.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	_, err = ana.client.GetCurrentUser(ctx)
	require.NoError(t, err)

	_, err = ana.client.GetCurrentUser(ctx)
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)

	gus := e.login(t, "gus")
	_, err = gus.client.GetCurrentUser(ctx)
	assert.NoError(t, err, "limits are tracked per user")
}
