package observability

import (
	"context"
	"log/slog"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// slogExporter writes finished spans to a *slog.Logger instead of shipping
// them to a collector — conclaved has no bundled tracing backend, but still
// wants spans visible in the same structured log stream everything else
// writes to.
type slogExporter struct {
	logger *slog.Logger
}

func (e *slogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := make([]any, 0, 4+2*len(s.Attributes()))
		attrs = append(attrs, "span", s.Name(), "duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds())
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		if s.Status().Code.String() == "Error" {
			e.logger.Error("span", attrs...)
		} else {
			e.logger.Debug("span", attrs...)
		}
	}
	return nil
}

func (e *slogExporter) Shutdown(ctx context.Context) error { return nil }

// InitTracing installs a TracerProvider that batches spans through a
// slog-backed exporter and registers it as the global provider. The
// returned shutdown func must be called before process exit to flush
// in-flight spans.
func InitTracing(serviceName string, logger *slog.Logger) (shutdown func(context.Context) error) {
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(&slogExporter{logger: logger}, sdktrace.WithBatchTimeout(time.Second)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
