package relay

import (
	"context"
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
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/ibox/bus"
	"github.com/xraph/ibox/id"
)

// Sentinel errors for server lifecycle.
var (
	ErrServerStarted = errors.New("relay: server already started")
	ErrServerClosed  = errors.New("relay: server closed")
)

// member is one bus membership: a realm that sent a hello and receives
// every other member's bus frames.
type member struct {
	id      string
	origin  string
	conn    net.Conn
	limiter *rate.Limiter

	// writeMu serializes frames onto the conn; broadcasts arrive from
	// the read goroutines of other members.
	writeMu sync.Mutex
}

func (m *member) write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return wsutil.WriteServerText(m.conn, data)
}

// parkedLeg is the first port leg of a claim, waiting for its peer.
type parkedLeg struct {
	conn  net.Conn
	timer *time.Timer
}

// Server relays bus frames between realm processes and splices
// dedicated channel legs together. Connections identify themselves with
// their first frame: hello makes the connection a bus member, dial
// makes it a port leg.
//
// Bus frames are stamped with the origin from the member's hello before
// broadcast, so receivers can trust the sender origin as far as they
// trust the relay deployment; hello origins themselves are not
// authenticated. Broadcast is lossy under per-member rate limiting,
// matching the bus contract. Port pipes carry frames verbatim, without
// throttling, in both directions.
type Server struct {
	addr     string
	logger   *slog.Logger
	claimTTL time.Duration
	busRate  float64
	busBurst int
	allowed  map[string]struct{}

	ln     net.Listener
	group  *errgroup.Group
	cancel context.CancelFunc

	started atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	members map[string]*member
	claims  map[string]*parkedLeg
	conns   map[net.Conn]struct{}

	broadcasts atomic.Uint64
	throttled  atomic.Uint64
}

// NewServer creates a relay server. Call Start to begin accepting.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:     DefaultListenAddr,
		logger:   slog.Default(),
		claimTTL: DefaultClaimTTL,
		busRate:  DefaultBusRate,
		busBurst: DefaultBusBurst,
		allowed:  make(map[string]struct{}),
		members:  make(map[string]*member),
		claims:   make(map[string]*parkedLeg),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and launches the accept loop. It returns
// once the server is listening; Addr reports the bound address. A
// stopped server cannot be restarted.
func (s *Server) Start(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrServerClosed
	}
	if s.started.Swap(true) {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.addr, err)
	}
	s.ln = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		return s.acceptLoop(ctx)
	})

	s.logger.Info("relay server listening",
		slog.String("addr", ln.Addr().String()),
		slog.Duration("claim_ttl", s.claimTTL),
		slog.Int("allowed_origins", len(s.allowed)))
	return nil
}

// Stop closes the listener and every connection, then waits for all
// server goroutines up to ctx's deadline. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.Load() || s.stopped.Swap(true) {
		return nil
	}
	s.logger.Info("relay server stopping")

	s.cancel()
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("listener close failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	claims := s.claims
	s.claims = make(map[string]*parkedLeg)
	s.mu.Unlock()

	for _, leg := range claims {
		leg.timer.Stop()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		s.logger.Info("relay server stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("relay: stop: %w", ctx.Err())
	}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// ServerStats is a point-in-time view of relay activity.
type ServerStats struct {
	Members      int
	ParkedClaims int

	// Broadcasts counts bus frames fanned out; Throttled counts bus
	// frames dropped by a member's rate limiter.
	Broadcasts uint64
	Throttled  uint64
}

// Stats returns current server statistics.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerStats{
		Members:      len(s.members),
		ParkedClaims: len(s.claims),
		Broadcasts:   s.broadcasts.Load(),
		Throttled:    s.throttled.Load(),
	}
}

// ── Connection handling ────────────────────────

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopped.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		s.trackConn(conn)
		s.group.Go(func() error {
			s.handleConn(conn)
			return nil
		})
	}
}

// handleConn upgrades the connection and routes it by its first frame.
// Connection failures are logged, never propagated; one bad client must
// not take the accept loop down.
func (s *Server) handleConn(conn net.Conn) {
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Debug("websocket upgrade failed",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.String("error", err.Error()))
		s.closeConn(conn)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(firstFrameTimeout))
	data, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		s.logger.Debug("no identifying frame",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.String("error", err.Error()))
		s.closeConn(conn)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, err := decodeFrame(data)
	if err != nil {
		s.writeError(conn, err.Error())
		s.closeConn(conn)
		return
	}

	switch f.Type {
	case FrameHello:
		defer s.closeConn(conn)
		s.serveMember(conn, f)
	case FrameDial:
		// serveLeg owns the conn: a parked leg outlives this goroutine.
		s.serveLeg(conn, f)
	default:
		s.writeError(conn, fmt.Sprintf("first frame must be hello or dial, got %q", f.Type))
		s.closeConn(conn)
	}
}

// ── Bus membership ─────────────────────────────

// serveMember registers the connection as a bus member and pumps its
// bus frames to every other member until the connection ends.
func (s *Server) serveMember(conn net.Conn, hello *Frame) {
	origin := strings.TrimSpace(hello.Origin)
	if origin == "" || origin == bus.Wildcard {
		s.writeError(conn, "hello requires a concrete origin")
		return
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[origin]; !ok {
			s.logger.Warn("bus membership rejected",
				slog.String("origin", origin),
				slog.String("remote", conn.RemoteAddr().String()))
			s.writeError(conn, fmt.Sprintf("origin %q not allowed", origin))
			return
		}
	}

	m := &member{
		id:     id.NewRealmID().String(),
		origin: origin,
		conn:   conn,
	}
	if s.busRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(s.busRate), s.busBurst)
	}

	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return
	}
	s.members[m.id] = m
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.members, m.id)
		s.mu.Unlock()
		s.logger.Info("bus member left",
			slog.String("member", m.id),
			slog.String("origin", origin))
	}()

	welcome, err := encodeFrame(&Frame{Type: FrameWelcome, Origin: origin, Member: m.id})
	if err != nil {
		return
	}
	if err := m.write(welcome); err != nil {
		return
	}
	s.logger.Info("bus member joined",
		slog.String("member", m.id),
		slog.String("origin", origin))

	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			if !s.stopped.Load() {
				s.logger.Debug("bus member read ended",
					slog.String("member", m.id),
					slog.String("error", err.Error()))
			}
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			s.logger.Debug("dropping undecodable bus frame",
				slog.String("member", m.id),
				slog.String("error", err.Error()))
			continue
		}
		if f.Type != FrameBus {
			s.logger.Debug("dropping non-bus frame from member",
				slog.String("member", m.id),
				slog.String("type", string(f.Type)))
			continue
		}
		if m.limiter != nil && !m.limiter.Allow() {
			s.throttled.Add(1)
			s.logger.Debug("bus frame throttled", slog.String("member", m.id))
			continue
		}

		s.broadcast(m, f)
	}
}

// broadcast stamps the frame with the sender's hello origin and fans it
// out to every other member. Receiver-side bridges apply the target
// filter; the relay does not inspect targets.
func (s *Server) broadcast(from *member, f *Frame) {
	f.Origin = from.origin
	data, err := encodeFrame(f)
	if err != nil {
		s.logger.Warn("bus frame re-encode failed",
			slog.String("member", from.id),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	peers := make([]*member, 0, len(s.members))
	for _, m := range s.members {
		if m != from {
			peers = append(peers, m)
		}
	}
	s.mu.Unlock()

	for _, m := range peers {
		if err := m.write(data); err != nil {
			// The member's own read loop notices and deregisters it.
			s.logger.Debug("bus frame delivery failed",
				slog.String("member", m.id),
				slog.String("error", err.Error()))
		}
	}
	s.broadcasts.Add(1)
}

// ── Port rendezvous ────────────────────────────

// serveLeg parks the first leg of a claim or splices it to the leg
// already parked. Claims are one-shot: once two legs attach the claim
// is gone, and an unpaired leg expires after the claim TTL.
func (s *Server) serveLeg(conn net.Conn, dial *Frame) {
	claim := strings.TrimSpace(dial.Claim)
	if _, err := id.ParseClaimID(claim); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid claim %q", claim))
		s.closeConn(conn)
		return
	}

	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		s.closeConn(conn)
		return
	}
	peer, found := s.claims[claim]
	if !found {
		leg := &parkedLeg{conn: conn}
		leg.timer = time.AfterFunc(s.claimTTL, func() { s.expireClaim(claim) })
		s.claims[claim] = leg
		s.mu.Unlock()
		s.logger.Debug("port leg parked", slog.String("claim", claim))
		// The conn stays open unread; its frames wait in the transport
		// until the peer attaches.
		return
	}
	delete(s.claims, claim)
	s.mu.Unlock()
	peer.timer.Stop()

	ack, err := encodeFrame(&Frame{Type: FrameAttached, Claim: claim})
	if err != nil {
		s.closeConn(conn)
		s.closeConn(peer.conn)
		return
	}
	if err := wsutil.WriteServerText(peer.conn, ack); err != nil {
		s.writeError(conn, "peer leg gone")
		s.closeConn(conn)
		s.closeConn(peer.conn)
		return
	}
	if err := wsutil.WriteServerText(conn, ack); err != nil {
		s.closeConn(conn)
		s.closeConn(peer.conn)
		return
	}

	s.logger.Info("port legs attached", slog.String("claim", claim))
	s.group.Go(func() error {
		s.pipe(peer.conn, conn)
		return nil
	})
	s.pipe(conn, peer.conn)
}

// pipe copies data messages from src to dst until either side ends,
// then closes both so the opposite pipe unblocks.
func (s *Server) pipe(src, dst net.Conn) {
	for {
		data, op, err := wsutil.ReadClientData(src)
		if err != nil {
			break
		}
		if err := wsutil.WriteServerMessage(dst, op, data); err != nil {
			break
		}
	}
	s.closeConn(src)
	s.closeConn(dst)
}

// expireClaim closes a leg whose peer never arrived.
func (s *Server) expireClaim(claim string) {
	s.mu.Lock()
	leg, ok := s.claims[claim]
	if ok {
		delete(s.claims, claim)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Info("port claim expired", slog.String("claim", claim))
	s.writeError(leg.conn, "claim expired")
	s.closeConn(leg.conn)
}

// ── Connection bookkeeping ─────────────────────

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) closeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// writeError sends a best-effort error frame before disconnect.
func (s *Server) writeError(conn net.Conn, msg string) {
	data, err := encodeFrame(&Frame{Type: FrameError, Error: msg})
	if err != nil {
		return
	}
	_ = wsutil.WriteServerText(conn, data)
}
