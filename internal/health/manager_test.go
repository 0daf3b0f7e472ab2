package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/stocktake/internal/clock"
)

type mockChecker struct {
	name   string
	result *Result
	delay  time.Duration
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) *Result {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Unhealthy("check cancelled").WithDetail("error", ctx.Err().Error())
		}
	}
	return m.result
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestManagerCheck(t *testing.T) {
	m := NewManager()
	m.AddChecker(&mockChecker{name: "a", result: Healthy("ok")})
	m.AddChecker(&mockChecker{name: "b", result: Degraded("slow")})
	m.AddChecker(&mockChecker{name: "nil", result: nil})

	results := m.Check(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results["nil"].Status != StatusUnhealthy {
		t.Errorf("nil result should be unhealthy, got %s", results["nil"].Status)
	}
	if got := m.OverallStatus(results); got != StatusUnhealthy {
		t.Errorf("overall = %s, want unhealthy", got)
	}
	if got := SortedNames(results); got[0] != "a" || got[2] != "nil" {
		t.Errorf("sorted names = %v", got)
	}
	if names := m.CheckNames(); len(names) != 3 || names[1] != "b" {
		t.Errorf("check names = %v", names)
	}
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager().WithTimeout(20 * time.Millisecond)
	m.AddChecker(&mockChecker{name: "slow", result: Healthy("late"), delay: time.Second})

	results := m.Check(context.Background())
	if results["slow"].Status != StatusUnhealthy {
		t.Errorf("timed out check should be unhealthy, got %s", results["slow"].Status)
	}
	if results["slow"].Latency == 0 {
		t.Error("latency should be recorded")
	}
}

func TestManagerRecoversPanics(t *testing.T) {
	m := NewManager()
	m.AddChecker(FuncChecker{CheckName: "boom", Fn: func(context.Context) *Result { panic("boom") }})

	results := m.Check(context.Background())
	if results["boom"].Status != StatusUnhealthy {
		t.Errorf("panicking check should be unhealthy, got %s", results["boom"].Status)
	}
}

func TestOverallStatus(t *testing.T) {
	m := NewManager()
	tests := []struct {
		name    string
		results map[string]*Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", map[string]*Result{"a": Healthy(""), "b": Healthy("")}, StatusHealthy},
		{"one degraded", map[string]*Result{"a": Healthy(""), "b": Degraded("")}, StatusDegraded},
		{"unhealthy wins", map[string]*Result{"a": Degraded(""), "b": Unhealthy("")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPingChecker(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		target   Pinger
		required bool
		want     Status
	}{
		{"reachable", ok, true, StatusHealthy},
		{"required down", down, true, StatusUnhealthy},
		{"optional down", down, false, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPingChecker("store", tt.target, tt.required)
			if c.Name() != "store" {
				t.Errorf("name = %s", c.Name())
			}
			r := c.Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
			if tt.want != StatusHealthy && r.Details["error"] != "connection refused" {
				t.Errorf("error detail = %v", r.Details["error"])
			}
		})
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live":
			w.WriteHeader(http.StatusOK)
		case "/auth":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	tests := []struct {
		path string
		want Status
	}{
		{"/live", StatusHealthy},
		{"/auth", StatusHealthy},
		{"/down", StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := NewHTTPChecker("api", srv.URL+tt.path, srv.Client()).Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
		})
	}

	srv.Close()
	if r := NewHTTPChecker("api", srv.URL, nil).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("closed server should be unhealthy, got %s", r.Status)
	}
	if r := NewHTTPChecker("api", "://bad", nil).Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("bad url should be unhealthy, got %s", r.Status)
	}
}

func TestProbeManager(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pm := NewProbeManagerWithClock("1.2.3", clk)
	pm.AddChecker(&mockChecker{name: "dep", result: Degraded("slow")})

	if got := pm.CheckStartup(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("startup before init = %s", got)
	}
	pm.MarkInitialized()
	if got := pm.CheckStartup(context.Background()).Status; got != StatusHealthy {
		t.Errorf("startup after init = %s", got)
	}

	clk.Advance(90 * time.Second)
	live := pm.CheckLiveness(context.Background())
	if live.Status != StatusHealthy || live.Uptime != "1m30s" || live.Version != "1.2.3" {
		t.Errorf("liveness = %+v", live)
	}

	ready := pm.CheckReadiness(context.Background())
	if ready.Status != StatusDegraded || ready.Checks["dep"] == nil {
		t.Errorf("readiness = %+v", ready)
	}

	pm.MarkShutdown()
	if got := pm.CheckReadiness(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("readiness during shutdown = %s", got)
	}
	if got := pm.CheckLiveness(context.Background()).Status; got != StatusDegraded {
		t.Errorf("liveness during shutdown = %s", got)
	}
}
