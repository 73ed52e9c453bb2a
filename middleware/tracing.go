package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ibox"
)

// tracerName is the instrumentation scope name for ibox tracing.
const tracerName = "github.com/xraph/ibox"

// Tracing returns middleware that wraps handler invocation in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: ibox.event and ibox.payload_bytes. On error,
// the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "ibox.message.handle",
			trace.WithAttributes(
				attribute.String("ibox.event", event),
				attribute.Int("ibox.payload_bytes", len(data)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx, data)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
