package middleware

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ibox"
)

// meterName is the instrumentation scope name for ibox metrics.
const meterName = "github.com/xraph/ibox"

// Metrics returns middleware that records per-invocation metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - ibox.handler.duration (Float64Histogram): handling time in seconds,
//     with attributes: event, status ("ok" or "error")
//   - ibox.handler.invocations (Int64Counter): total invocations,
//     with attributes: event, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"ibox.handler.duration",
		metric.WithDescription("Duration of message handling in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	invocations, iErr := meter.Int64Counter(
		"ibox.handler.invocations",
		metric.WithDescription("Total number of handler invocations"),
		metric.WithUnit("{invocation}"),
	)
	_ = iErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx, data)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)

		return result, err
	}
}
