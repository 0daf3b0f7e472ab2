package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/authz"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/platform"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
	"github.com/felixgeelhaar/stocktake/internal/transport"
)

// TokenVerifier validates a bearer token. auth.LocalProvider is one.
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// SessionStore holds the per-user session document.
type SessionStore interface {
	SetSessionID(ctx context.Context, userID, sessionID string) error
	ClearSessionID(ctx context.Context, userID string) error
	SessionID(ctx context.Context, userID string) (string, error)
}

// API is the mock platform API.
type API struct {
	verifier TokenVerifier
	sessions SessionStore
	tenants  []platform.Tenant
	items    map[string][]platform.Item
	logger   *log.Logger
	router   *mux.Router

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// APIConfig configures NewAPI. Items are keyed by normalized tenant id.
type APIConfig struct {
	Verifier TokenVerifier
	Sessions SessionStore
	Tenants  []platform.Tenant
	Items    map[string][]platform.Item
	Logger   *log.Logger

	// RateLimit is the sustained request rate allowed per user; zero means
	// unlimited. RateBurst defaults to 1 when a limit is set.
	RateLimit rate.Limit
	RateBurst int
}

type claimsKey struct{}

// NewAPI builds the mock API handler.
func NewAPI(cfg APIConfig) *API {
	a := &API{
		verifier: cfg.Verifier,
		sessions: cfg.Sessions,
		tenants:  append([]platform.Tenant(nil), cfg.Tenants...),
		items:    make(map[string][]platform.Item, len(cfg.Items)),
		logger:   log.OrDefault(cfg.Logger).With("component", "mock-api"),
		router:   mux.NewRouter(),
		limit:    cfg.RateLimit,
		burst:    cfg.RateBurst,
		limiters: make(map[string]*rate.Limiter),
	}
	if a.limit == 0 {
		a.limit = rate.Inf
	}
	if a.burst < 1 {
		a.burst = 1
	}
	for id, items := range cfg.Items {
		a.items[tenant.Normalize(id)] = items
	}
	sort.Slice(a.tenants, func(i, j int) bool { return a.tenants[i].ID < a.tenants[j].ID })

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no such resource")
	})
	a.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.authenticated)
	v1.HandleFunc("/users/me", a.handleMe).Methods(http.MethodGet)
	v1.HandleFunc("/tenants", a.handleTenants).Methods(http.MethodGet)
	v1.HandleFunc("/items", a.handleItems).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/session", a.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/session", a.handlePatchSession).Methods(http.MethodPatch)
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// authenticated is router middleware that verifies the bearer token and
// stores its claims on the request context.
func (a *API) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get(transport.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.verifier.Verify(raw)
		if err != nil {
			a.logger.Debug("rejected token", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !a.limiter(claims.Subject).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (a *API) limiter(subject string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[subject]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[subject] = l
	}
	return l
}

func claimsFrom(r *http.Request) *auth.Claims {
	c, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	return c
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)
	writeJSON(w, http.StatusOK, platform.User{
		ID:       c.Subject,
		Username: c.Subject,
		Email:    c.Email,
		Role:     c.Role,
		TenantID: c.TenantID,
	})
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)
	visible := make([]platform.Tenant, 0, len(a.tenants))
	for _, t := range a.tenants {
		if authz.CanActOnTenant(c.Role, c.TenantID, t.ID) {
			visible = append(visible, t)
		}
	}
	writeJSON(w, http.StatusOK, platform.ListTenantsResponse{Tenants: visible})
}

// handleItems serves master data. A superuser is scoped by the tenant
// header and must send one; everyone else is scoped to their own tenant.
func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)

	target := tenant.Normalize(c.TenantID)
	if authz.IsSuperuser(c.Role) {
		target = tenant.Normalize(r.Header.Get(transport.HeaderTenant))
		if target == "" {
			writeError(w, http.StatusBadRequest, "select a tenant first")
			return
		}
	}

	d := authz.Authorize(authz.Request{
		Role:         c.Role,
		Action:       authz.ActionReadMasterData,
		UserTenant:   c.TenantID,
		TargetTenant: target,
	})
	if !d.Allowed {
		writeError(w, http.StatusForbidden, d.Reason)
		return
	}

	items := a.items[target]
	if items == nil {
		items = []platform.Item{}
	}
	writeJSON(w, http.StatusOK, platform.ListItemsResponse{Tenant: target, Items: items})
}

func (a *API) ownsSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := claimsFrom(r)
	id := mux.Vars(r)["id"]
	if id != c.Subject && !authz.IsSuperuser(c.Role) {
		writeError(w, http.StatusForbidden, "cannot access another user's session")
		return "", false
	}
	return id, true
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownsSession(w, r)
	if !ok {
		return
	}
	sid, err := a.sessions.SessionID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, platform.SessionDocument{SessionID: sid})
}

func (a *API) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownsSession(w, r)
	if !ok {
		return
	}
	var doc platform.SessionDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session document")
		return
	}

	var err error
	if doc.SessionID == "" {
		err = a.sessions.ClearSessionID(r.Context(), id)
	} else {
		err = a.sessions.SetSessionID(r.Context(), id, doc.SessionID)
	}
	if err != nil {
		a.logger.WithError(err).Warn("session document update failed", "user_id", id)
		writeError(w, http.StatusBadGateway, "session store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, platform.ErrorResponse{Error: msg})
}

// DemoTenants and DemoItems seed the mock API.
var DemoTenants = []platform.Tenant{
	{ID: "ACME", Name: "Acme Wholesale"},
	{ID: "GLOBEX", Name: "Globex Retail"},
}

var DemoItems = map[string][]platform.Item{
	"ACME": {
		{SKU: "AC-1001", Name: "Pallet jack", Quantity: 4},
		{SKU: "AC-1002", Name: "Shrink wrap roll", Quantity: 120},
	},
	"GLOBEX": {
		{SKU: "GX-2001", Name: "Barcode scanner", Quantity: 12},
	},
}
