package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/ibox"
	"github.com/xraph/ibox/backoff"
	"github.com/xraph/ibox/bus"
	"github.com/xraph/ibox/channel"
	"github.com/xraph/ibox/id"
)

// Sentinel errors for realm lifecycle.
var (
	ErrRejected    = errors.New("relay: server rejected connection")
	ErrRealmClosed = errors.New("relay: realm closed")
)

// Realm is a bus membership on a relay server, standing in for an
// in-process bus endpoint: it implements bus.Inbox and bus.Poster for
// the handshake coordinators and ibox.ChannelFactory for the host side.
//
// Handshake signals translate to token frames on the wire and back to
// ReadySignal and channel.Opener payloads on delivery; any other posted
// payload crosses as JSON and arrives as a json.RawMessage. The bus
// connection re-dials with backoff when it breaks and messages missed
// during the outage are lost, like any broadcast nobody heard.
// Dedicated channels never reconnect; when a port dies, callers run the
// handshake again.
type Realm struct {
	url    string
	origin string
	logger *slog.Logger

	redial     backoff.Strategy
	maxRedials int
	buffer     int

	mu       sync.Mutex
	conn     net.Conn
	memberID string

	subs    *bus.SubscriptionSet
	dropped atomic.Uint64

	closed    atomic.Bool
	closeCtx  context.Context
	closeStop context.CancelFunc
}

// Compile-time interface checks.
var (
	_ bus.Inbox           = (*Realm)(nil)
	_ bus.Poster          = (*Realm)(nil)
	_ ibox.ChannelFactory = (*Realm)(nil)
)

// Dial joins the relay at url as origin and starts the bridge. The
// origin must be concrete; it is what receiving realms validate, so two
// sides of a handshake must agree on it exactly.
func Dial(ctx context.Context, url, origin string, opts ...RealmOption) (*Realm, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == bus.Wildcard {
		return nil, fmt.Errorf("relay: dial requires a concrete origin")
	}

	r := &Realm{
		url:        url,
		origin:     origin,
		logger:     slog.Default(),
		redial:     backoff.DefaultStrategy(),
		maxRedials: DefaultMaxRedials,
		buffer:     bus.DefaultSubscriptionBuffer,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.subs = bus.NewSubscriptionSet(r.buffer)
	r.closeCtx, r.closeStop = context.WithCancel(context.Background())

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	go r.readLoop(conn)
	return r, nil
}

// Origin returns the origin this realm joined with.
func (r *Realm) Origin() string { return r.origin }

// MemberID returns the server-assigned membership identifier of the
// current connection.
func (r *Realm) MemberID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberID
}

// Subscribe returns a new independent inbox for this realm's bus
// traffic. After Close the returned subscription is already closed.
func (r *Realm) Subscribe() *bus.Subscription {
	return r.subs.Subscribe()
}

// Post broadcasts payload through the relay, scoped to targetOrigin.
// Only realms whose origin matches the target (or any, for
// bus.Wildcard) deliver it. An in-process PortGrant cannot cross the
// relay; hosts mint relay channels by using the realm as their channel
// factory.
func (r *Realm) Post(payload any, targetOrigin string) error {
	if r.closed.Load() {
		return ErrRealmClosed
	}
	targetOrigin = strings.TrimSpace(targetOrigin)
	if targetOrigin == "" {
		return bus.ErrEmptyOrigin
	}

	f := &Frame{Type: FrameBus, Target: targetOrigin}
	switch p := payload.(type) {
	case ibox.ReadySignal, *ibox.ReadySignal:
		f.Token = ibox.TokenReady
	case *portClaim:
		f.Token = ibox.TokenPort
		f.Claim = p.claim
		f.Format = p.format
	case ibox.PortGrant, *ibox.PortGrant:
		return fmt.Errorf("relay: an in-process port grant cannot cross the relay; mint the channel with the realm as factory")
	case json.RawMessage:
		f.Data = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("relay: post payload: %w", err)
		}
		f.Data = data
	}
	return r.writeFrame(f)
}

// NewChannel mints a dedicated relay channel: it dials the first port
// leg under a fresh claim and returns the grant the host posts to the
// child. The child's bridge turns the grant frame into an opener that
// dials the second leg.
func (r *Realm) NewChannel(ctx context.Context, format string) (channel.Port, any, error) {
	if r.closed.Load() {
		return nil, nil, ErrRealmClosed
	}

	claim := id.NewClaimID().String()
	port, err := r.dialPort(ctx, claim)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: mint channel: %w", err)
	}
	r.logger.Debug("port leg dialed",
		slog.String("claim", claim),
		slog.String("format", format))
	return port, &portClaim{realm: r, claim: claim, format: format}, nil
}

// Close tears the bridge down: the bus connection closes and every
// subscription ends. Ports already open stay up; they have their own
// connections. Idempotent.
func (r *Realm) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.closeStop()

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	r.subs.CloseAll()
	r.logger.Info("relay realm closed", slog.String("origin", r.origin))
	return nil
}

// ── Connection ─────────────────────────────────

// connect dials the relay and completes the hello/welcome exchange. The
// welcome is read directly since the read loop is not running yet.
func (r *Realm) connect(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	hello, err := encodeFrame(&Frame{Type: FrameHello, Origin: r.origin})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := wsutil.WriteClientText(conn, hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	type readResult struct {
		f   *Frame
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, readErr := wsutil.ReadServerText(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read welcome: %w", readErr)}
			return
		}
		f, decodeErr := decodeFrame(data)
		if decodeErr != nil {
			resultCh <- readResult{err: decodeErr}
			return
		}
		resultCh <- readResult{f: f}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return nil, result.err
		}
		switch result.f.Type {
		case FrameWelcome:
		case FrameError:
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrRejected, result.f.Error)
		default:
			_ = conn.Close()
			return nil, fmt.Errorf("expected welcome, got %q", result.f.Type)
		}

		r.mu.Lock()
		r.conn = conn
		r.memberID = result.f.Member
		r.mu.Unlock()

		r.logger.Info("relay realm connected",
			slog.String("origin", r.origin),
			slog.String("member", result.f.Member),
			slog.String("url", r.url))
		return conn, nil

	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()

	case <-time.After(welcomeTimeout):
		_ = conn.Close()
		return nil, fmt.Errorf("welcome timeout")
	}
}

// readLoop fans incoming bus frames out to the subscriptions until the
// connection breaks, then hands off to the redial loop.
func (r *Realm) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if r.closed.Load() {
				return
			}
			r.logger.Warn("relay realm read error",
				slog.String("origin", r.origin),
				slog.String("error", err.Error()))
			r.tryRedial()
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			r.logger.Debug("dropping undecodable relay frame",
				slog.String("error", err.Error()))
			continue
		}
		if f.Type != FrameBus {
			continue
		}
		if f.Target != bus.Wildcard && f.Target != r.origin {
			// Addressed elsewhere; a misaddressed broadcast is simply
			// never observed.
			continue
		}

		payload, ok := r.payloadFor(f)
		if !ok {
			continue
		}
		if dropped := r.subs.Deliver(bus.Message{Origin: f.Origin, Payload: payload}); dropped > 0 {
			r.dropped.Add(uint64(dropped))
			r.logger.Debug("bus messages dropped",
				slog.String("origin", r.origin),
				slog.String("from", f.Origin),
				slog.Int("count", dropped))
		}
	}
}

// payloadFor rebuilds the bus payload a frame carries: token frames
// become handshake signals, everything else stays raw JSON.
func (r *Realm) payloadFor(f *Frame) (any, bool) {
	switch f.Token {
	case "":
		return json.RawMessage(f.Data), true
	case ibox.TokenReady:
		return ibox.ReadySignal{}, true
	case ibox.TokenPort:
		return &portClaim{realm: r, claim: f.Claim, format: f.Format}, true
	default:
		r.logger.Debug("dropping bus frame with unknown token",
			slog.String("token", f.Token))
		return nil, false
	}
}

// tryRedial re-connects the bus with backoff. When the attempts are
// exhausted the realm closes, which ends every subscription and lets
// blocked handshakes fail instead of waiting forever.
func (r *Realm) tryRedial() {
	err := backoff.Retry(r.closeCtx, r.maxRedials, r.redial, func(attempt int) error {
		r.logger.Info("relay realm redialing",
			slog.String("origin", r.origin),
			slog.Int("attempt", attempt))
		_, cerr := r.connect(r.closeCtx)
		return cerr
	})
	if err != nil {
		if r.closed.Load() {
			return
		}
		r.logger.Error("relay realm gave up redialing",
			slog.String("origin", r.origin),
			slog.String("error", err.Error()))
		_ = r.Close()
		return
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	go r.readLoop(conn)
}

// writeFrame sends one frame on the bus connection. During an outage
// the write fails and the caller retries; after Close it fails with
// ErrRealmClosed.
func (r *Realm) writeFrame(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ErrRealmClosed
	}
	if err := wsutil.WriteClientText(r.conn, data); err != nil {
		return fmt.Errorf("relay: post: %w", err)
	}
	return nil
}

// dialPort opens a fresh connection as one leg of a claim. The leg
// parks at the server until its peer arrives.
func (r *Realm) dialPort(ctx context.Context, claim string) (channel.Port, error) {
	if r.closed.Load() {
		return nil, ErrRealmClosed
	}

	conn, _, _, err := ws.Dial(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("relay: dial port leg: %w", err)
	}
	dial, err := encodeFrame(&Frame{Type: FrameDial, Claim: claim})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := wsutil.WriteClientText(conn, dial); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay: write dial: %w", err)
	}
	return &wsPort{conn: conn, logger: r.logger}, nil
}
