package ibox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/ibox/bus"
	"github.com/xraph/ibox/channel"
)

// Client runs the embedded side of the handshake: announce readiness to
// the parent realm, wait for a port grant, open the granted channel,
// and return a connected Messenger on it.
//
// The subscription on self is taken before the first announcement so a
// fast parent cannot grant into the void. Announcements repeat every
// retry interval up to the attempt cap; individual post failures are
// swallowed because the parent may not be listening yet. Grants from
// origins other than parentOrigin are ignored without consuming an
// attempt. When the grant names a frame codec, the client adopts it.
func Client(ctx context.Context, self bus.Inbox, parent bus.Poster, parentOrigin string, opts ...Option) (*Messenger, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	parentOrigin = strings.TrimSpace(parentOrigin)
	if parentOrigin == "" {
		return nil, ErrInvalidOrigin
	}
	if parent == nil {
		return nil, ErrNoParentSurface
	}
	if self == nil {
		return nil, fmt.Errorf("ibox: client: nil inbox")
	}

	logger := cfg.logger.With(
		slog.String("role", "client"),
		slog.String("peer_origin", parentOrigin),
	)
	if parentOrigin == bus.Wildcard {
		logger.Warn("wildcard peer origin accepts port grants from any realm")
	}

	state := stateAnnouncing
	started := time.Now()
	fail := func(err error) (*Messenger, error) {
		state = stateFailed
		logger.Debug("handshake failed",
			slog.String("state", state.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	sub := self.Subscribe()
	defer sub.Close()

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := parent.Post(ReadySignal{}, parentOrigin); err != nil {
			// The parent may not be attached yet; keep announcing.
			logger.Debug("ready announcement failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		wait := time.NewTimer(cfg.retryInterval)
	recv:
		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					wait.Stop()
					return fail(fmt.Errorf("ibox: client: inbox closed during handshake"))
				}
				opener, isGrant := msg.Payload.(channel.Opener)
				if !isGrant {
					// Foreign bus traffic does not consume the attempt.
					continue recv
				}
				if !originAllowed(parentOrigin, msg.Origin) {
					logger.Debug("ignoring port grant from unexpected origin",
						slog.String("origin", msg.Origin))
					continue recv
				}
				wait.Stop()

				port, err := opener.OpenPort(ctx)
				if err != nil {
					return fail(fmt.Errorf("ibox: client: open granted port: %w", err))
				}
				if cc, ok := msg.Payload.(codecCarrier); ok {
					if name := cc.CodecName(); name != "" {
						cfg.codec = GetCodec(name)
					}
				}
				state = stateGranted

				m := newMessenger(port, cfg)
				m.hooks.EmitHandshakeCompleted(ctx, "client", msg.Origin, time.Since(started))
				logger.Info("handshake complete",
					slog.String("state", state.String()),
					slog.String("messenger", m.ID()),
					slog.Int("attempts", attempt),
					slog.Duration("elapsed", time.Since(started)))
				return m, nil

			case <-wait.C:
				break recv

			case <-ctx.Done():
				wait.Stop()
				return fail(fmt.Errorf("ibox: client: %w", ctx.Err()))
			}
		}
	}

	return fail(fmt.Errorf("%w: no port grant after %d attempts", ErrHandshakeTimeout, cfg.maxAttempts))
}
