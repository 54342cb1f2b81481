package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/talespin"

// SessionIDKey is the span attribute carrying the story session a span
// belongs to.
const SessionIDKey = attribute.Key("talespin.session.id")

// StartSessionSpan starts a span for one step of a story session, such as a
// narrator call or an autosave, tagged with sessionID. The caller ends the
// span.
func StartSessionSpan(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, SessionIDKey.String(sessionID))
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// CorrelationID is the trace ID of the span in ctx, echoed to API clients in
// X-Correlation-ID. Empty outside a span.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id added when ctx
// carries a sampled session span so log lines can be joined to traces.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
