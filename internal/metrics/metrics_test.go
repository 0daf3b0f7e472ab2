package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTokenRequest(false, ResultCacheHit)
		m.ObserveRefresh(true, false, time.Second)
		m.RecordRequest("GET", 200, false, time.Millisecond)
		m.RecordRetry("sent")
		m.SessionStarted("admin")
		m.SessionTerminated("idle")
		m.Interaction()
		m.RemoteUpdateFailed("clear_session_id")
		m.CommandExecuted("get", true)
		m.RecordError("AUTH_REFRESH_FAILED", "auth")
	})
}

func TestCounters(t *testing.T) {
	_, m := NewRegistry()

	m.RecordTokenRequest(false, ResultCacheHit)
	m.RecordTokenRequest(false, ResultCacheHit)
	m.RecordTokenRequest(true, ResultRefreshed)
	m.ObserveRefresh(true, true, 20*time.Millisecond)
	m.RecordRequest("GET", 401, true, time.Millisecond)
	m.RecordRetry("sent")
	m.SessionTerminated("absolute")
	m.Interaction()
	m.Interaction()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenRequests.WithLabelValues("false", ResultCacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRequests.WithLabelValues("true", ResultRefreshed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("true", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRequests.WithLabelValues("GET", "4xx", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRetries.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTerminated.WithLabelValues("absolute")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionInteractions))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "error", statusClass(0))
}

func TestServerExposesMetrics(t *testing.T) {
	reg, m := NewRegistry()
	m.SessionStarted("guest")

	srv, err := Listen("127.0.0.1:0", reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `stocktake_sessions_started_total{role="guest"} 1`))

	cancel()
	require.NoError(t, <-done)
}
