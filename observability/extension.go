package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ibox/ext"
)

// meterName is the instrumentation scope name for ibox metrics.
const meterName = "github.com/xraph/ibox/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.HandshakeCompleted = (*MetricsExtension)(nil)
	_ ext.EventEmitted       = (*MetricsExtension)(nil)
	_ ext.EventReceived      = (*MetricsExtension)(nil)
	_ ext.HandlerFailed      = (*MetricsExtension)(nil)
	_ ext.CallStarted        = (*MetricsExtension)(nil)
	_ ext.CallSettled        = (*MetricsExtension)(nil)
	_ ext.RequestServed      = (*MetricsExtension)(nil)
	_ ext.Destroyed          = (*MetricsExtension)(nil)
)

// MetricsExtension records messenger lifecycle metrics via OpenTelemetry.
// Register it with ibox.WithExtensions to automatically track handshake
// completions, event throughput, handler failures, call outcomes and
// latency, and teardowns.
type MetricsExtension struct {
	handshakes     metric.Int64Counter
	eventsEmitted  metric.Int64Counter
	eventsReceived metric.Int64Counter
	handlerErrors  metric.Int64Counter
	callsStarted   metric.Int64Counter
	callsSettled   metric.Int64Counter
	callDuration   metric.Float64Histogram
	requestsServed metric.Int64Counter
	serveDuration  metric.Float64Histogram
	destroys       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used and
// every hook becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a specific MeterProvider
// for testing. Instrument creation errors fall back to noop instruments
// per the OTel API contract, so they are not surfaced.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	m.handshakes, _ = meter.Int64Counter(
		"ibox.handshake.completed",
		metric.WithDescription("Completed handshakes by role"),
		metric.WithUnit("{handshake}"),
	)
	m.eventsEmitted, _ = meter.Int64Counter(
		"ibox.event.emitted",
		metric.WithDescription("Fire-and-forget events sent"),
		metric.WithUnit("{event}"),
	)
	m.eventsReceived, _ = meter.Int64Counter(
		"ibox.event.received",
		metric.WithDescription("Inbound events dispatched to handlers"),
		metric.WithUnit("{event}"),
	)
	m.handlerErrors, _ = meter.Int64Counter(
		"ibox.handler.failed",
		metric.WithDescription("Event handler errors and panics"),
		metric.WithUnit("{error}"),
	)
	m.callsStarted, _ = meter.Int64Counter(
		"ibox.call.started",
		metric.WithDescription("Outbound calls sent"),
		metric.WithUnit("{call}"),
	)
	m.callsSettled, _ = meter.Int64Counter(
		"ibox.call.settled",
		metric.WithDescription("Outbound calls settled by status"),
		metric.WithUnit("{call}"),
	)
	m.callDuration, _ = meter.Float64Histogram(
		"ibox.call.duration",
		metric.WithDescription("Outbound call round-trip time in seconds"),
		metric.WithUnit("s"),
	)
	m.requestsServed, _ = meter.Int64Counter(
		"ibox.request.served",
		metric.WithDescription("Inbound requests answered by status"),
		metric.WithUnit("{request}"),
	)
	m.serveDuration, _ = meter.Float64Histogram(
		"ibox.request.duration",
		metric.WithDescription("Inbound request handling time in seconds"),
		metric.WithUnit("s"),
	)
	m.destroys, _ = meter.Int64Counter(
		"ibox.messenger.destroyed",
		metric.WithDescription("Messenger teardowns"),
		metric.WithUnit("{messenger}"),
	)

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// ── Handshake hooks ─────────────────────────────────

// OnHandshakeCompleted implements ext.HandshakeCompleted.
func (m *MetricsExtension) OnHandshakeCompleted(ctx context.Context, role, _ string, _ time.Duration) error {
	m.handshakes.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	return nil
}

// ── Event hooks ─────────────────────────────────────

// OnEventEmitted implements ext.EventEmitted.
func (m *MetricsExtension) OnEventEmitted(ctx context.Context, event string) error {
	m.eventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return nil
}

// OnEventReceived implements ext.EventReceived.
func (m *MetricsExtension) OnEventReceived(ctx context.Context, event string, _ int) error {
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return nil
}

// OnHandlerFailed implements ext.HandlerFailed.
func (m *MetricsExtension) OnHandlerFailed(ctx context.Context, event string, _ error) error {
	m.handlerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return nil
}

// ── Call hooks ──────────────────────────────────────

// OnCallStarted implements ext.CallStarted.
func (m *MetricsExtension) OnCallStarted(ctx context.Context, event string, _ uint64) error {
	m.callsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return nil
}

// OnCallSettled implements ext.CallSettled.
func (m *MetricsExtension) OnCallSettled(ctx context.Context, event string, _ uint64, callErr error, elapsed time.Duration) error {
	attrs := metric.WithAttributes(attribute.String("event", event), statusAttr(callErr))
	m.callsSettled.Add(ctx, 1, attrs)
	m.callDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnRequestServed implements ext.RequestServed.
func (m *MetricsExtension) OnRequestServed(ctx context.Context, event string, serveErr error, elapsed time.Duration) error {
	attrs := metric.WithAttributes(attribute.String("event", event), statusAttr(serveErr))
	m.requestsServed.Add(ctx, 1, attrs)
	m.serveDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// ── Teardown hooks ──────────────────────────────────

// OnDestroyed implements ext.Destroyed.
func (m *MetricsExtension) OnDestroyed(ctx context.Context, _ int) error {
	m.destroys.Add(ctx, 1)
	return nil
}
