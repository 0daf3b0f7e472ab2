package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartTokenSpan creates a span around an identity provider issuance.
func StartTokenSpan(ctx context.Context, force bool) (context.Context, trace.Span) {
	ctx, span := GetTracerProvider().Tracer("auth").Start(ctx, "token.refresh")
	span.SetAttributes(
		attribute.Bool("force", force),
		attribute.String("component", "auth"),
	)
	return ctx, span
}

// StartRequestSpan creates a span for one pipeline round trip, retry included.
func StartRequestSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	ctx, span := GetTracerProvider().Tracer("transport").Start(ctx, "pipeline.round_trip",
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("component", "transport"),
	)
	return ctx, span
}

// StartSessionSpan creates a span for a session lifecycle operation.
func StartSessionSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := GetTracerProvider().Tracer("session").Start(ctx, "session."+operation)
	span.SetAttributes(attribute.String("component", "session"))
	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
