// Package observability provides an OpenTelemetry-based metrics
// extension for ibox. The MetricsExtension implements lifecycle hooks to
// record messenger-wide counters for handshakes, emitted and received
// events, handler failures, calls, served requests, and teardowns.
//
// For per-invocation tracing and metrics on individual handlers, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
