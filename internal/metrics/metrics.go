package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token request results
const (
	ResultCacheHit         = "cache_hit"
	ResultRefreshed        = "refreshed"
	ResultNotAuthenticated = "not_authenticated"
	ResultRefreshFailed    = "refresh_failed"
	ResultDiscarded        = "discarded"
)

// Metrics holds all Prometheus metrics for stocktake. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Token cache metrics
	TokenRequests        *prometheus.CounterVec
	TokenRefreshes       *prometheus.CounterVec
	TokenRefreshDuration *prometheus.HistogramVec

	// Request pipeline metrics
	PipelineRequests *prometheus.CounterVec
	PipelineRetries  *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec

	// Session metrics
	SessionsStarted      *prometheus.CounterVec
	SessionsTerminated   *prometheus.CounterVec
	SessionInteractions  prometheus.Counter
	RemoteUpdateFailures *prometheus.CounterVec

	// Command metrics
	CommandExecutions *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TokenRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_token_requests_total",
				Help: "Token cache lookups by result",
			},
			[]string{"force", "result"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_token_refreshes_total",
				Help: "Identity provider token issuances",
			},
			[]string{"force", "success"},
		),
		TokenRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocktake_token_refresh_duration_seconds",
				Help:    "Identity provider token issuance latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"force"},
		),

		PipelineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_pipeline_requests_total",
				Help: "Outbound requests sent through the pipeline",
			},
			[]string{"method", "status_class", "retried"},
		),
		PipelineRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_pipeline_retries_total",
				Help: "Unauthorized responses that triggered a forced refresh",
			},
			[]string{"outcome"},
		),
		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stocktake_pipeline_duration_seconds",
				Help:    "Pipeline round trip duration in seconds, including any retry",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		SessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_sessions_started_total",
				Help: "Sessions started by role",
			},
			[]string{"role"},
		),
		SessionsTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_sessions_terminated_total",
				Help: "Sessions terminated by cause",
			},
			[]string{"cause"},
		),
		SessionInteractions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stocktake_session_interactions_total",
				Help: "Tracked user interactions",
			},
		),
		RemoteUpdateFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_remote_update_failures_total",
				Help: "Best-effort writes that failed and were ignored",
			},
			[]string{"operation"},
		),

		CommandExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_command_executions_total",
				Help: "Interactive command executions",
			},
			[]string{"command", "success"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stocktake_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// RecordTokenRequest counts a TokenCache lookup
func (m *Metrics) RecordTokenRequest(force bool, result string) {
	if m == nil {
		return
	}
	m.TokenRequests.WithLabelValues(strconv.FormatBool(force), result).Inc()
}

// ObserveRefresh records one identity provider issuance
func (m *Metrics) ObserveRefresh(force, success bool, d time.Duration) {
	if m == nil {
		return
	}
	f := strconv.FormatBool(force)
	m.TokenRefreshes.WithLabelValues(f, strconv.FormatBool(success)).Inc()
	m.TokenRefreshDuration.WithLabelValues(f).Observe(d.Seconds())
}

// RecordRequest records one pipeline round trip. status 0 means no response.
func (m *Metrics) RecordRequest(method string, status int, retried bool, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRequests.WithLabelValues(method, statusClass(status), strconv.FormatBool(retried)).Inc()
	m.PipelineDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordRetry counts a retry attempt by outcome
func (m *Metrics) RecordRetry(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRetries.WithLabelValues(outcome).Inc()
}

// SessionStarted counts a new session
func (m *Metrics) SessionStarted(role string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(role).Inc()
}

// SessionTerminated counts a terminated session
func (m *Metrics) SessionTerminated(cause string) {
	if m == nil {
		return
	}
	m.SessionsTerminated.WithLabelValues(cause).Inc()
}

// Interaction counts a tracked interaction
func (m *Metrics) Interaction() {
	if m == nil {
		return
	}
	m.SessionInteractions.Inc()
}

// RemoteUpdateFailed counts a swallowed best-effort write failure
func (m *Metrics) RemoteUpdateFailed(operation string) {
	if m == nil {
		return
	}
	m.RemoteUpdateFailures.WithLabelValues(operation).Inc()
}

// CommandExecuted counts an interactive command
func (m *Metrics) CommandExecuted(command string, success bool) {
	if m == nil {
		return
	}
	m.CommandExecutions.WithLabelValues(command, strconv.FormatBool(success)).Inc()
}

// RecordError counts an error by code
func (m *Metrics) RecordError(code, component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(code, component).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
