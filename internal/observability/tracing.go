// Package observability wraps go.opentelemetry.io/otel to emit one span per
// suspension point named in spec.md §5: lease acquisition, dequeue,
// processor dispatch, LLM call, tool execution, and RAG ingest. It is
// additive instrumentation — no caller depends on a span being recorded.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/conclavehq/conclave"

// Tracer returns the named tracer conclaved's components instrument spans
// with. It always returns a usable tracer — a no-op one if no SDK/exporter
// was ever configured, matching otel's own "safe by default" contract.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named per the suspension point it wraps (e.g.
// "queue.acquire_lease", "worker.dispatch", "rag.ingest"), tagging it with
// thread_id/event_id/event_type/namespace where the caller has them.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span (if any) and ends it. err is passed by value: a
// deferred End(span, err) records the value err had when the defer ran.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ThreadAttrs builds the common thread_id/event_id/event_type/namespace
// attribute set spec.md §5's observability section names.
func ThreadAttrs(threadID, eventID, eventType, namespace string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if threadID != "" {
		attrs = append(attrs, attribute.String("thread_id", threadID))
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String("event_id", eventID))
	}
	if eventType != "" {
		attrs = append(attrs, attribute.String("event_type", eventType))
	}
	if namespace != "" {
		attrs = append(attrs, attribute.String("namespace", namespace))
	}
	return attrs
}
