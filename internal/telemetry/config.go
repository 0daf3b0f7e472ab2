package telemetry

// Config holds configuration for the tracer
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled selects the SDK provider. When false a noop tracer is used.
	Enabled bool

	// Endpoint is the OTLP/HTTP collector host:port. Empty means spans
	// are sampled but never exported.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns tracing disabled, which is what an interactive
// client wants unless a collector is configured.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "stocktake",
		ServiceVersion: "dev",
		SampleRate:     1.0,
	}
}
