package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger is anything that can verify its own connectivity, such as the
// SQLite store or the Redis session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps a Pinger. A failing optional dependency is degraded
// rather than unhealthy.
type PingChecker struct {
	name     string
	target   Pinger
	required bool
}

// NewPingChecker creates a PingChecker.
func NewPingChecker(name string, target Pinger, required bool) *PingChecker {
	return &PingChecker{name: name, target: target, required: required}
}

// Name implements Checker.
func (c *PingChecker) Name() string { return c.name }

// Check implements Checker.
func (c *PingChecker) Check(ctx context.Context) *Result {
	start := time.Now()
	if err := c.target.Ping(ctx); err != nil {
		r := Degraded("ping failed")
		if c.required {
			r = Unhealthy("ping failed")
		}
		return r.WithDetail("error", err.Error()).WithLatency(time.Since(start))
	}
	return Healthy("reachable").WithLatency(time.Since(start))
}

// HTTPChecker probes a URL. Any response below 500 counts as reachable,
// 5xx as degraded, transport errors as unhealthy.
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates an HTTPChecker. A nil client uses
// http.DefaultClient.
func NewHTTPChecker(name, url string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{name: name, url: url, client: client}
}

// Name implements Checker.
func (c *HTTPChecker) Name() string { return c.name }

// Check implements Checker.
func (c *HTTPChecker) Check(ctx context.Context) *Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Unhealthy("invalid url").WithDetail("error", err.Error())
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Unhealthy("unreachable").
			WithDetail("url", c.url).
			WithDetail("error", err.Error()).
			WithLatency(latency)
	}
	resp.Body.Close()

	r := Healthy(fmt.Sprintf("responded %d", resp.StatusCode))
	if resp.StatusCode >= 500 {
		r = Degraded(fmt.Sprintf("server error %d", resp.StatusCode))
	}
	return r.WithDetail("url", c.url).WithDetail("status_code", resp.StatusCode).WithLatency(latency)
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	CheckName string
	Fn        func(ctx context.Context) *Result
}

// Name implements Checker.
func (c FuncChecker) Name() string { return c.CheckName }

// Check implements Checker.
func (c FuncChecker) Check(ctx context.Context) *Result { return c.Fn(ctx) }
