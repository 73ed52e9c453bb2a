package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/ibox"
)

// Timeout returns middleware that enforces a per-invocation deadline on
// the handler context. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded. A
// non-positive duration disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ string, data json.RawMessage, next ibox.Handler) (any, error) {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx, data)
	}
}
