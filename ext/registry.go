package ext

import (
	"context"
	"log/slog"
	"time"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type handshakeCompletedEntry struct {
	name string
	hook HandshakeCompleted
}

type eventEmittedEntry struct {
	name string
	hook EventEmitted
}

type eventReceivedEntry struct {
	name string
	hook EventReceived
}

type handlerFailedEntry struct {
	name string
	hook HandlerFailed
}

type callStartedEntry struct {
	name string
	hook CallStarted
}

type callSettledEntry struct {
	name string
	hook CallSettled
}

type requestServedEntry struct {
	name string
	hook RequestServed
}

type destroyedEntry struct {
	name string
	hook Destroyed
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Register all extensions before the messenger starts; the registry is
// read-only afterwards.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	handshakeCompleted []handshakeCompletedEntry
	eventEmitted       []eventEmittedEntry
	eventReceived      []eventReceivedEntry
	handlerFailed      []handlerFailedEntry
	callStarted        []callStartedEntry
	callSettled        []callSettledEntry
	requestServed      []requestServedEntry
	destroyed          []destroyedEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(HandshakeCompleted); ok {
		r.handshakeCompleted = append(r.handshakeCompleted, handshakeCompletedEntry{name, h})
	}
	if h, ok := e.(EventEmitted); ok {
		r.eventEmitted = append(r.eventEmitted, eventEmittedEntry{name, h})
	}
	if h, ok := e.(EventReceived); ok {
		r.eventReceived = append(r.eventReceived, eventReceivedEntry{name, h})
	}
	if h, ok := e.(HandlerFailed); ok {
		r.handlerFailed = append(r.handlerFailed, handlerFailedEntry{name, h})
	}
	if h, ok := e.(CallStarted); ok {
		r.callStarted = append(r.callStarted, callStartedEntry{name, h})
	}
	if h, ok := e.(CallSettled); ok {
		r.callSettled = append(r.callSettled, callSettledEntry{name, h})
	}
	if h, ok := e.(RequestServed); ok {
		r.requestServed = append(r.requestServed, requestServedEntry{name, h})
	}
	if h, ok := e.(Destroyed); ok {
		r.destroyed = append(r.destroyed, destroyedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitHandshakeCompleted notifies extensions that implement HandshakeCompleted.
func (r *Registry) EmitHandshakeCompleted(ctx context.Context, role, origin string, elapsed time.Duration) {
	for _, e := range r.handshakeCompleted {
		if err := e.hook.OnHandshakeCompleted(ctx, role, origin, elapsed); err != nil {
			r.logHookError("OnHandshakeCompleted", e.name, err)
		}
	}
}

// EmitEventEmitted notifies extensions that implement EventEmitted.
func (r *Registry) EmitEventEmitted(ctx context.Context, event string) {
	for _, e := range r.eventEmitted {
		if err := e.hook.OnEventEmitted(ctx, event); err != nil {
			r.logHookError("OnEventEmitted", e.name, err)
		}
	}
}

// EmitEventReceived notifies extensions that implement EventReceived.
func (r *Registry) EmitEventReceived(ctx context.Context, event string, handlers int) {
	for _, e := range r.eventReceived {
		if err := e.hook.OnEventReceived(ctx, event, handlers); err != nil {
			r.logHookError("OnEventReceived", e.name, err)
		}
	}
}

// EmitHandlerFailed notifies extensions that implement HandlerFailed.
func (r *Registry) EmitHandlerFailed(ctx context.Context, event string, hookErr error) {
	for _, e := range r.handlerFailed {
		if err := e.hook.OnHandlerFailed(ctx, event, hookErr); err != nil {
			r.logHookError("OnHandlerFailed", e.name, err)
		}
	}
}

// EmitCallStarted notifies extensions that implement CallStarted.
func (r *Registry) EmitCallStarted(ctx context.Context, event string, correlID uint64) {
	for _, e := range r.callStarted {
		if err := e.hook.OnCallStarted(ctx, event, correlID); err != nil {
			r.logHookError("OnCallStarted", e.name, err)
		}
	}
}

// EmitCallSettled notifies extensions that implement CallSettled.
func (r *Registry) EmitCallSettled(ctx context.Context, event string, correlID uint64, callErr error, elapsed time.Duration) {
	for _, e := range r.callSettled {
		if err := e.hook.OnCallSettled(ctx, event, correlID, callErr, elapsed); err != nil {
			r.logHookError("OnCallSettled", e.name, err)
		}
	}
}

// EmitRequestServed notifies extensions that implement RequestServed.
func (r *Registry) EmitRequestServed(ctx context.Context, event string, serveErr error, elapsed time.Duration) {
	for _, e := range r.requestServed {
		if err := e.hook.OnRequestServed(ctx, event, serveErr, elapsed); err != nil {
			r.logHookError("OnRequestServed", e.name, err)
		}
	}
}

// EmitDestroyed notifies extensions that implement Destroyed.
func (r *Registry) EmitDestroyed(ctx context.Context, pending int) {
	for _, e := range r.destroyed {
		if err := e.hook.OnDestroyed(ctx, pending); err != nil {
			r.logHookError("OnDestroyed", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block traffic.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
