package ext

import (
	"context"
	"time"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Handshake hooks
// ──────────────────────────────────────────────────

// HandshakeCompleted is called when a handshake resolves on either role.
// role is "host" or "client"; origin is the validated remote origin.
type HandshakeCompleted interface {
	OnHandshakeCompleted(ctx context.Context, role, origin string, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Event hooks
// ──────────────────────────────────────────────────

// EventEmitted is called after a fire-and-forget event was sent.
type EventEmitted interface {
	OnEventEmitted(ctx context.Context, event string) error
}

// EventReceived is called when an inbound event is dispatched. handlers
// is the number of handlers it will be delivered to (0 means dropped).
type EventReceived interface {
	OnEventReceived(ctx context.Context, event string, handlers int) error
}

// HandlerFailed is called when an event handler returns an error or
// panics. Sibling handlers still run; this hook is the structured form
// of the diagnostic sink.
type HandlerFailed interface {
	OnHandlerFailed(ctx context.Context, event string, err error) error
}

// ──────────────────────────────────────────────────
// Call hooks
// ──────────────────────────────────────────────────

// CallStarted is called after an outbound call was sent.
type CallStarted interface {
	OnCallStarted(ctx context.Context, event string, correlID uint64) error
}

// CallSettled is called when an outbound call settles. callErr is nil
// for a successful response; otherwise it is the timeout, remote,
// destroy, or cancellation error the caller observed.
type CallSettled interface {
	OnCallSettled(ctx context.Context, event string, correlID uint64, callErr error, elapsed time.Duration) error
}

// RequestServed is called after an inbound call was answered. serveErr
// is the handler error that was reported to the remote caller, if any.
type RequestServed interface {
	OnRequestServed(ctx context.Context, event string, serveErr error, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Teardown hooks
// ──────────────────────────────────────────────────

// Destroyed is called once when the messenger is torn down. pending is
// the number of in-flight calls that were failed by the teardown.
type Destroyed interface {
	OnDestroyed(ctx context.Context, pending int) error
}
