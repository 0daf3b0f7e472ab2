// Package transport decorates outbound API calls with credentials and
// tenant scope, and retries an unauthorized call once with a freshly
// issued token.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/stocktake/internal/auth"
	"github.com/felixgeelhaar/stocktake/internal/log"
	"github.com/felixgeelhaar/stocktake/internal/metrics"
	"github.com/felixgeelhaar/stocktake/internal/telemetry"
	"github.com/felixgeelhaar/stocktake/internal/tenant"
)

// Header names set by the pipeline.
const (
	HeaderAuthorization = "Authorization"
	HeaderTenant        = "X-Tenant-Id"
)

// TokenSource is the part of auth.TokenCache the pipeline needs.
type TokenSource interface {
	Token(ctx context.Context, force bool) (auth.Token, error)
}

// TenantSource is the part of tenant.Context the pipeline needs.
type TenantSource interface {
	Snapshot() tenant.Selection
}

// Stage decorates an outgoing request. Stages never fail the call.
type Stage interface {
	Name() string
	Decorate(ctx context.Context, req *http.Request)
}

// AuthStage attaches a bearer token from the cache. When no token can be
// obtained the request goes out without credentials; the server's
// rejection then drives the retry path.
type AuthStage struct {
	Tokens TokenSource
	Logger *log.Logger
}

// Name implements Stage.
func (s AuthStage) Name() string { return "auth" }

// Decorate implements Stage.
func (s AuthStage) Decorate(ctx context.Context, req *http.Request) {
	tok, err := s.Tokens.Token(ctx, false)
	if err != nil {
		req.Header.Del(HeaderAuthorization)
		log.OrDefault(s.Logger).WithError(err).Debug("sending request without credentials", "path", req.URL.Path)
		return
	}
	setBearer(req, tok)
}

// TenantStage attaches the tenant scope for a superuser with a selection.
type TenantStage struct {
	Tenant TenantSource
}

// Name implements Stage.
func (s TenantStage) Name() string { return "tenant" }

// Decorate implements Stage.
func (s TenantStage) Decorate(_ context.Context, req *http.Request) {
	if id, ok := s.Tenant.Snapshot().ScopeHeader(); ok {
		req.Header.Set(HeaderTenant, id)
		return
	}
	req.Header.Del(HeaderTenant)
}

func setBearer(req *http.Request, tok auth.Token) {
	req.Header.Set(HeaderAuthorization, "Bearer "+tok.Value)
}

// Pipeline is an http.RoundTripper running the auth stage then the tenant
// stage before every call.
//
// A 401 response triggers exactly one retry: the token is force-refreshed,
// the credential header is replaced, and the request is resent with the
// tenant header it already carried. The retry's response is returned
// whatever its status. If the forced refresh itself fails, that error is
// returned and nothing is resent.
type Pipeline struct {
	base    http.RoundTripper
	tokens  TokenSource
	stages  []Stage
	logger  *log.Logger
	metrics *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBase sets the transport that performs the I/O.
func WithBase(rt http.RoundTripper) Option {
	return func(p *Pipeline) { p.base = rt }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a Pipeline over tokens and tenants.
func New(tokens TokenSource, tenants TenantSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		base:   http.DefaultTransport,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.OrDefault(p.logger).With("component", "pipeline")
	p.stages = []Stage{
		AuthStage{Tokens: tokens, Logger: p.logger},
		TenantStage{Tenant: tenants},
	}
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Client returns an *http.Client that sends through the pipeline.
func (p *Pipeline) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: p, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := telemetry.StartRequestSpan(req.Context(), req.Method, req.URL.Path)
	defer span.End()

	start := time.Now()
	resp, retried, err := p.roundTrip(ctx, req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	p.metrics.RecordRequest(req.Method, status, retried, time.Since(start))
	span.SetAttributes(attribute.Bool("retried", retried), attribute.Int("http.status_code", status))
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return resp, err
}

func (p *Pipeline) roundTrip(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	getBody, err := replayable(req)
	if err != nil {
		return nil, false, err
	}

	first, err := attempt(ctx, req, getBody)
	if err != nil {
		return nil, false, err
	}
	for _, s := range p.stages {
		s.Decorate(ctx, first)
	}

	resp, err := p.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, false, err
	}
	discard(resp)

	tok, err := p.tokens.Token(ctx, true)
	if err != nil {
		p.metrics.RecordRetry("refresh_failed")
		p.logger.WithError(err).Warn("forced refresh after unauthorized response failed",
			"method", req.Method, "path", req.URL.Path)
		return nil, true, err
	}

	second, err := attempt(ctx, first, getBody)
	if err != nil {
		return nil, true, err
	}
	setBearer(second, tok)

	p.metrics.RecordRetry("sent")
	resp, err = p.base.RoundTrip(second)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		p.logger.Warn("request still unauthorized after forced refresh", "method", req.Method, "path", req.URL.Path)
	}
	return resp, true, err
}

// replayable returns a function producing fresh copies of the request
// body, buffering it once when the caller did not provide GetBody.
func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		// The caller's Body is consumed by neither attempt.
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

// attempt clones src with a fresh body. The caller's request is never
// modified.
func attempt(ctx context.Context, src *http.Request, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	r := src.Clone(ctx)
	if getBody == nil {
		return r, nil
	}
	body, err := getBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	r.GetBody = getBody
	return r, nil
}

// discard drains a bounded amount of the body so the connection can be
// reused, then closes it.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
