package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scopeName identifies the gateway's instrumentation scope in exported spans.
const scopeName = "github.com/shannon-ai/llm-gateway"

// StartSpan opens a span named name on the gateway's tracer. Callers must
// End the returned span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, opts...)
}

// CorrelationID returns the identifier exposed to callers through the
// X-Correlation-ID response header. It is the active trace ID, so a caller
// can hand it straight to a trace backend; without an active span it is
// empty and the header is omitted.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger annotated with the active trace and span
// IDs, so per-request log lines join up with their spans. Without an active
// span the default logger comes back unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
