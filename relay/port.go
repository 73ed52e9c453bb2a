package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/ibox/channel"
)

// portClaim is the grant payload for a relay channel: claim names the
// rendezvous, format the frame codec the granting side will use. It
// crosses the bus as a TokenPort frame; the receiving bridge rebuilds
// it bound to its own realm.
type portClaim struct {
	realm  *Realm
	claim  string
	format string
}

// Compile-time interface check.
var _ channel.Opener = (*portClaim)(nil)

// OpenPort dials the second leg of the claim.
func (c *portClaim) OpenPort(ctx context.Context) (channel.Port, error) {
	return c.realm.dialPort(ctx, c.claim)
}

// CodecName returns the frame codec the granting side will use.
func (c *portClaim) CodecName() string { return c.format }

// wsPort is one leg of a spliced relay channel. Channel frames travel
// as binary messages; text messages on a port leg are rendezvous
// control (the attached ack) and are skipped on receive.
//
// Context cancellation is honored through connection deadlines: a
// canceled Send or Recv plants a deadline in the past and clears it on
// the way out, so the port stays usable for the next call.
type wsPort struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Compile-time interface check.
var _ channel.Port = (*wsPort)(nil)

func (p *wsPort) Send(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return channel.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	for attempt := 0; ; attempt++ {
		p.writeMu.Lock()
		err := wsutil.WriteClientBinary(p.conn, frame)
		p.writeMu.Unlock()
		if err == nil {
			return nil
		}

		switch {
		case p.closed.Load():
			return channel.ErrClosed
		case ctx.Err() != nil:
			_ = p.conn.SetWriteDeadline(time.Time{})
			return ctx.Err()
		case errors.Is(err, os.ErrDeadlineExceeded) && attempt == 0:
			// A canceled earlier call left its deadline behind.
			_ = p.conn.SetWriteDeadline(time.Time{})
		case isPeerGone(err):
			return channel.ErrClosed
		default:
			return fmt.Errorf("relay: port send: %w", err)
		}
	}
}

func (p *wsPort) Recv(ctx context.Context) ([]byte, error) {
	if p.closed.Load() {
		return nil, channel.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		data, op, err := wsutil.ReadServerData(p.conn)
		if err != nil {
			switch {
			case p.closed.Load():
				return nil, channel.ErrClosed
			case ctx.Err() != nil:
				_ = p.conn.SetReadDeadline(time.Time{})
				return nil, ctx.Err()
			case errors.Is(err, os.ErrDeadlineExceeded):
				// A canceled earlier call left its deadline behind.
				_ = p.conn.SetReadDeadline(time.Time{})
				continue
			case isPeerGone(err):
				return nil, io.EOF
			default:
				return nil, fmt.Errorf("relay: port recv: %w", err)
			}
		}
		if op != ws.OpBinary {
			continue
		}
		return data, nil
	}
}

func (p *wsPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("relay: port close: %w", err)
	}
	return nil
}

// isPeerGone reports whether a read error means the other side of the
// channel is gone for good, which the port surfaces as io.EOF.
func isPeerGone(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.As(err, &closed)
}
