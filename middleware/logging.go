package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/ibox"
)

// Logging returns middleware that logs handler start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, event string, data json.RawMessage, next ibox.Handler) (any, error) {
		logger.Info("message handling started",
			slog.String("event", event),
			slog.Int("payload_bytes", len(data)),
		)

		start := time.Now()
		result, err := next(ctx, data)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("message handling failed",
				slog.String("event", event),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("message handling completed",
				slog.String("event", event),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
