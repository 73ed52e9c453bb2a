package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/ibox/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.HandshakeCompleted = (*Extension)(nil)
	_ ext.EventEmitted       = (*Extension)(nil)
	_ ext.EventReceived      = (*Extension)(nil)
	_ ext.HandlerFailed      = (*Extension)(nil)
	_ ext.CallStarted        = (*Extension)(nil)
	_ ext.CallSettled        = (*Extension)(nil)
	_ ext.RequestServed      = (*Extension)(nil)
	_ ext.Destroyed          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
// Callers provide a RecorderFunc adapter that bridges to their audit backend.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
//
// Example bridging to Chronicle:
//
//	audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    b := chronicle.Info(ctx, evt.Action, evt.Resource, evt.ResourceID).
//	        Category(evt.Category).
//	        Outcome(evt.Outcome)
//	    for k, v := range evt.Metadata {
//	        b = b.Meta(k, v)
//	    }
//	    return b.Record()
//	})
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants (mirror chronicle/audit).
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants (mirror chronicle/audit).
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges messenger lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Handshake hooks ─────────────────────────────────

// OnHandshakeCompleted implements ext.HandshakeCompleted.
func (e *Extension) OnHandshakeCompleted(ctx context.Context, role, origin string, elapsed time.Duration) error {
	return e.record(ctx, ActionHandshakeCompleted, SeverityInfo, OutcomeSuccess,
		ResourceMessenger, origin, CategoryHandshake, nil,
		"role", role,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Event hooks ─────────────────────────────────────

// OnEventEmitted implements ext.EventEmitted.
func (e *Extension) OnEventEmitted(ctx context.Context, event string) error {
	return e.record(ctx, ActionEventEmitted, SeverityInfo, OutcomeSuccess,
		ResourceEvent, event, CategoryEvent, nil,
		"direction", "outbound",
	)
}

// OnEventReceived implements ext.EventReceived.
func (e *Extension) OnEventReceived(ctx context.Context, event string, handlers int) error {
	return e.record(ctx, ActionEventReceived, SeverityInfo, OutcomeSuccess,
		ResourceEvent, event, CategoryEvent, nil,
		"direction", "inbound",
		"handlers", handlers,
	)
}

// OnHandlerFailed implements ext.HandlerFailed.
func (e *Extension) OnHandlerFailed(ctx context.Context, event string, handlerErr error) error {
	return e.record(ctx, ActionHandlerFailed, SeverityWarning, OutcomeFailure,
		ResourceEvent, event, CategoryEvent, handlerErr)
}

// ── Call hooks ──────────────────────────────────────

// OnCallStarted implements ext.CallStarted.
func (e *Extension) OnCallStarted(ctx context.Context, event string, correlID uint64) error {
	return e.record(ctx, ActionCallStarted, SeverityInfo, OutcomeSuccess,
		ResourceCall, strconv.FormatUint(correlID, 10), CategoryCall, nil,
		"event", event,
	)
}

// OnCallSettled implements ext.CallSettled.
func (e *Extension) OnCallSettled(ctx context.Context, event string, correlID uint64, callErr error, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if callErr != nil {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionCallSettled, severity, outcome,
		ResourceCall, strconv.FormatUint(correlID, 10), CategoryCall, callErr,
		"event", event,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRequestServed implements ext.RequestServed.
func (e *Extension) OnRequestServed(ctx context.Context, event string, serveErr error, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if serveErr != nil {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionRequestServed, severity, outcome,
		ResourceCall, event, CategoryCall, serveErr,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Teardown hooks ──────────────────────────────────

// OnDestroyed implements ext.Destroyed. Teardown always succeeds; a
// warning severity flags destroys that stranded in-flight calls.
func (e *Extension) OnDestroyed(ctx context.Context, pending int) error {
	severity := SeverityInfo
	if pending > 0 {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionDestroyed, severity, OutcomeSuccess,
		ResourceMessenger, "", CategoryLifecycle, nil,
		"pending_calls", pending,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
