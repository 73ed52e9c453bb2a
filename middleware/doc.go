// Package middleware provides composable middleware for message handlers.
//
// A [Middleware] is a function that wraps an ibox handler. Middleware are
// composed into a chain using [Chain] and bound to a handler with [Apply]
// before registration. They are applied right-to-left: the first middleware
// in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	h := middleware.Apply("user.get", getUser,
//	    middleware.Logging(logger), middleware.Recover(logger))
//	messenger.On("user.get", h)
//
// # Built-in Middleware
//
//   - [Logging] — logs event name, duration, and outcome at each invocation
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the handler context after a configured duration
//   - [Tracing] — wraps the invocation in an OpenTelemetry span
//   - [Metrics] — records per-invocation duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error) {
//	        // pre-processing
//	        result, err := next(ctx, data)
//	        // post-processing
//	        return result, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., validation, rate limiting).
package middleware
