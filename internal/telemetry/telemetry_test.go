package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { SetTracerProvider(nil) })
	return rec
}

func TestInitProviderDisabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := StartTokenSpan(context.Background(), false)
	assert.False(t, span.SpanContext().IsValid(), "noop spans carry no context")
	span.End()
}

func TestInitProviderEnabledWithoutExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 0.5

	shutdown, err := InitProvider(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { SetTracerProvider(nil) })

	_, span := StartSessionSpan(context.Background(), "begin")
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestSpanHelpers(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := StartRequestSpan(context.Background(), "GET", "/api/v1/users/me")
	RecordSuccess(span)
	span.End()

	_, child := StartTokenSpan(ctx, true)
	RecordError(child, errors.New("provider down"))
	child.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pipeline.round_trip", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "token.refresh", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
}

func TestRecordErrorNil(t *testing.T) {
	rec := installRecorder(t)
	_, span := StartSessionSpan(context.Background(), "logout")
	RecordError(span, nil)
	span.End()

	assert.Equal(t, codes.Unset, rec.Ended()[0].Status().Code)
}
