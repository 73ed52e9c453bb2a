package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/ibox/audit_hook"
	"github.com/xraph/ibox/ext"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Handshake tests ──────────────────────────────────

func TestExtension_HandshakeCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnHandshakeCompleted(context.Background(), "host", "https://child.example", 120*time.Millisecond); err != nil {
		t.Fatalf("OnHandshakeCompleted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionHandshakeCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionHandshakeCompleted, evt.Action)
	}
	if evt.Resource != ah.ResourceMessenger {
		t.Errorf("Resource: want %q, got %q", ah.ResourceMessenger, evt.Resource)
	}
	if evt.Category != ah.CategoryHandshake {
		t.Errorf("Category: want %q, got %q", ah.CategoryHandshake, evt.Category)
	}
	if evt.ResourceID != "https://child.example" {
		t.Errorf("ResourceID: want %q, got %q", "https://child.example", evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["role"] != "host" {
		t.Errorf("Metadata[role]: want %q, got %v", "host", evt.Metadata["role"])
	}
	if evt.Metadata["elapsed_ms"] != int64(120) {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", 120, evt.Metadata["elapsed_ms"])
	}
}

// ── Event tests ──────────────────────────────────────

func TestExtension_EventEmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnEventEmitted(context.Background(), "cart.add"); err != nil {
		t.Fatalf("OnEventEmitted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionEventEmitted {
		t.Errorf("Action: want %q, got %q", ah.ActionEventEmitted, evt.Action)
	}
	if evt.Resource != ah.ResourceEvent {
		t.Errorf("Resource: want %q, got %q", ah.ResourceEvent, evt.Resource)
	}
	if evt.ResourceID != "cart.add" {
		t.Errorf("ResourceID: want %q, got %q", "cart.add", evt.ResourceID)
	}
	if evt.Metadata["direction"] != "outbound" {
		t.Errorf("Metadata[direction]: want %q, got %v", "outbound", evt.Metadata["direction"])
	}
}

func TestExtension_EventReceived(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnEventReceived(context.Background(), "cart.add", 3); err != nil {
		t.Fatalf("OnEventReceived: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionEventReceived {
		t.Errorf("Action: want %q, got %q", ah.ActionEventReceived, evt.Action)
	}
	if evt.Metadata["direction"] != "inbound" {
		t.Errorf("Metadata[direction]: want %q, got %v", "inbound", evt.Metadata["direction"])
	}
	if evt.Metadata["handlers"] != 3 {
		t.Errorf("Metadata[handlers]: want %d, got %v", 3, evt.Metadata["handlers"])
	}
}

func TestExtension_HandlerFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnHandlerFailed(context.Background(), "cart.add", errors.New("inventory closed")); err != nil {
		t.Fatalf("OnHandlerFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionHandlerFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionHandlerFailed, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "inventory closed" {
		t.Errorf("Reason: want %q, got %q", "inventory closed", evt.Reason)
	}
	if evt.Metadata["error"] != "inventory closed" {
		t.Errorf("Metadata[error]: want %q, got %v", "inventory closed", evt.Metadata["error"])
	}
}

// ── Call tests ───────────────────────────────────────

func TestExtension_CallStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnCallStarted(context.Background(), "order.lookup", 7); err != nil {
		t.Fatalf("OnCallStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionCallStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionCallStarted, evt.Action)
	}
	if evt.Resource != ah.ResourceCall {
		t.Errorf("Resource: want %q, got %q", ah.ResourceCall, evt.Resource)
	}
	if evt.Category != ah.CategoryCall {
		t.Errorf("Category: want %q, got %q", ah.CategoryCall, evt.Category)
	}
	if evt.ResourceID != "7" {
		t.Errorf("ResourceID: want %q, got %q", "7", evt.ResourceID)
	}
	if evt.Metadata["event"] != "order.lookup" {
		t.Errorf("Metadata[event]: want %q, got %v", "order.lookup", evt.Metadata["event"])
	}
}

func TestExtension_CallSettled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnCallSettled(context.Background(), "order.lookup", 7, nil, 250*time.Millisecond); err != nil {
		t.Fatalf("OnCallSettled: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionCallSettled {
		t.Errorf("Action: want %q, got %q", ah.ActionCallSettled, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["elapsed_ms"] != int64(250) {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", 250, evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_CallSettledError(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	callErr := errors.New("call timed out")
	if err := e.OnCallSettled(context.Background(), "order.lookup", 8, callErr, 10*time.Second); err != nil {
		t.Fatalf("OnCallSettled: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "call timed out" {
		t.Errorf("Reason: want %q, got %q", "call timed out", evt.Reason)
	}
}

func TestExtension_RequestServed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnRequestServed(context.Background(), "order.lookup", nil, 40*time.Millisecond); err != nil {
		t.Fatalf("OnRequestServed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRequestServed {
		t.Errorf("Action: want %q, got %q", ah.ActionRequestServed, evt.Action)
	}
	if evt.ResourceID != "order.lookup" {
		t.Errorf("ResourceID: want %q, got %q", "order.lookup", evt.ResourceID)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
}

func TestExtension_RequestServedError(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	serveErr := errors.New("order not found")
	if err := e.OnRequestServed(context.Background(), "order.lookup", serveErr, 5*time.Millisecond); err != nil {
		t.Fatalf("OnRequestServed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["error"] != "order not found" {
		t.Errorf("Metadata[error]: want %q, got %v", "order not found", evt.Metadata["error"])
	}
}

// ── Teardown tests ───────────────────────────────────

func TestExtension_Destroyed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnDestroyed(context.Background(), 0); err != nil {
		t.Fatalf("OnDestroyed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionDestroyed {
		t.Errorf("Action: want %q, got %q", ah.ActionDestroyed, evt.Action)
	}
	if evt.Category != ah.CategoryLifecycle {
		t.Errorf("Category: want %q, got %q", ah.CategoryLifecycle, evt.Category)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["pending_calls"] != 0 {
		t.Errorf("Metadata[pending_calls]: want %d, got %v", 0, evt.Metadata["pending_calls"])
	}
}

func TestExtension_DestroyedWithPending(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnDestroyed(context.Background(), 4); err != nil {
		t.Fatalf("OnDestroyed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["pending_calls"] != 4 {
		t.Errorf("Metadata[pending_calls]: want %d, got %v", 4, evt.Metadata["pending_calls"])
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionCallSettled, ah.ActionHandlerFailed))

	ctx := context.Background()

	// Emitted is NOT enabled — should be silently skipped.
	if err := e.OnEventEmitted(ctx, "cart.add"); err != nil {
		t.Fatalf("OnEventEmitted: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (emitted disabled), got %d", rec.count())
	}

	// Settled IS enabled — should be recorded.
	if err := e.OnCallSettled(ctx, "order.lookup", 1, nil, 50*time.Millisecond); err != nil {
		t.Fatalf("OnCallSettled: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (settled enabled), got %d", rec.count())
	}

	// HandlerFailed IS enabled — should be recorded.
	if err := e.OnHandlerFailed(ctx, "cart.add", errors.New("boom")); err != nil {
		t.Fatalf("OnHandlerFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)

	if err := e.OnEventEmitted(context.Background(), "cart.add"); err != nil {
		t.Fatalf("OnEventEmitted: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionEventEmitted {
		t.Errorf("Action: want %q, got %q", ah.ActionEventEmitted, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder, ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// Hook should NOT return an error — audit failures must not block
	// message traffic.
	if err := e.OnEventEmitted(context.Background(), "cart.add"); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()

	reg.EmitHandshakeCompleted(ctx, "client", "https://host.example", 80*time.Millisecond)
	reg.EmitEventEmitted(ctx, "cart.add")
	reg.EmitEventReceived(ctx, "cart.add", 1)
	reg.EmitHandlerFailed(ctx, "cart.add", errors.New("fail"))
	reg.EmitCallStarted(ctx, "order.lookup", 1)
	reg.EmitCallSettled(ctx, "order.lookup", 1, nil, 50*time.Millisecond)
	reg.EmitRequestServed(ctx, "order.lookup", nil, 40*time.Millisecond)
	reg.EmitDestroyed(ctx, 0)

	// Verify all eight event types were recorded.
	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 8 {
		t.Errorf("expected 8 actions, got %d", len(actions))
	}
}
