package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/ibox"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace. For call
// handlers the error travels to the remote caller like any other handler
// error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (result any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("message handler panicked",
					slog.String("event", event),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = fmt.Errorf("panic handling %s: %v", event, r)
			}
		}()
		return next(ctx, data)
	}
}
