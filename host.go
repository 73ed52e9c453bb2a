package ibox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/ibox/bus"
)

// Host runs the host side of the handshake: listen on self for the
// child's ready signal, mint a dedicated channel, post the grant to the
// child realm, and return a connected Messenger on the host endpoint.
//
// childOrigin is the exact origin expected from the child; ready
// signals from any other origin are ignored without consuming the
// handshake. bus.Wildcard disables the check and is logged loudly.
// Host gives up with ErrHandshakeTimeout when no acceptable ready
// signal arrives within the handshake timeout.
func Host(ctx context.Context, self bus.Inbox, child bus.Poster, childOrigin string, opts ...Option) (*Messenger, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.factory == nil {
		cfg.factory = memChannelFactory{buffer: cfg.portBuffer}
	}

	childOrigin = strings.TrimSpace(childOrigin)
	if childOrigin == "" {
		return nil, ErrInvalidOrigin
	}
	if child == nil {
		return nil, ErrNoChildSurface
	}
	if self == nil {
		return nil, fmt.Errorf("ibox: host: nil inbox")
	}

	logger := cfg.logger.With(
		slog.String("role", "host"),
		slog.String("peer_origin", childOrigin),
	)
	if childOrigin == bus.Wildcard {
		logger.Warn("wildcard peer origin accepts ready signals from any realm")
	}

	state := stateListening
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

	deadline := time.NewTimer(cfg.handshakeTimeout)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return fail(fmt.Errorf("ibox: host: inbox closed during handshake"))
			}
			switch msg.Payload.(type) {
			case ReadySignal, *ReadySignal:
			default:
				// Foreign bus traffic does not consume handshake state.
				continue
			}
			if !originAllowed(childOrigin, msg.Origin) {
				logger.Debug("ignoring ready signal from unexpected origin",
					slog.String("origin", msg.Origin))
				continue
			}

			local, grant, err := cfg.factory.NewChannel(ctx, cfg.codec.Name())
			if err != nil {
				return fail(fmt.Errorf("ibox: host: mint channel: %w", err))
			}
			if err := child.Post(grant, childOrigin); err != nil {
				_ = local.Close()
				return fail(fmt.Errorf("ibox: host: post port grant: %w", err))
			}
			state = stateGranted

			m := newMessenger(local, cfg)
			m.hooks.EmitHandshakeCompleted(ctx, "host", msg.Origin, time.Since(started))
			logger.Info("handshake complete",
				slog.String("state", state.String()),
				slog.String("messenger", m.ID()),
				slog.Duration("elapsed", time.Since(started)))
			return m, nil

		case <-deadline.C:
			return fail(fmt.Errorf("%w: no ready signal after %s", ErrHandshakeTimeout, cfg.handshakeTimeout))

		case <-ctx.Done():
			return fail(fmt.Errorf("ibox: host: %w", ctx.Err()))
		}
	}
}
