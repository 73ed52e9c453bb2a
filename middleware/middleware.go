package middleware

import (
	"context"
	"encoding/json"

	"github.com/xraph/ibox"
)

// Middleware wraps an ibox.Handler with cross-cutting logic. It receives
// the current context, the event name being handled, the raw payload,
// and the next handler to call. Middleware MUST call next to continue
// the chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context, data json.RawMessage) (any, error) {
				return mw(ctx, event, data, prev)
			}
		}
		return h(ctx, data)
	}
}

// Apply binds a middleware chain to a handler under a fixed event name,
// producing a handler suitable for Messenger.On. The event name given
// here is what the middleware observe; register the result under the
// same name.
func Apply(event string, h ibox.Handler, mws ...Middleware) ibox.Handler {
	if len(mws) == 0 {
		return h
	}
	chain := Chain(mws...)
	return func(ctx context.Context, data json.RawMessage) (any, error) {
		return chain(ctx, event, data, h)
	}
}
