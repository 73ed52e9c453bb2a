package relay

import (
	"log/slog"
	"time"

	"github.com/xraph/ibox/backoff"
)

// Defaults for server and realm construction.
const (
	// DefaultListenAddr is where the relay server listens when no
	// address is configured.
	DefaultListenAddr = ":7373"

	// DefaultClaimTTL bounds how long a parked port leg waits for its
	// peer before the claim expires and the leg is closed.
	DefaultClaimTTL = 30 * time.Second

	// DefaultBusRate is the sustained bus frames per second accepted
	// from one member before frames are dropped.
	DefaultBusRate = 100

	// DefaultBusBurst is the token-bucket burst for the member limiter.
	DefaultBusBurst = 200

	// DefaultMaxRedials caps how many times a realm re-dials its bus
	// connection after it breaks, per outage.
	DefaultMaxRedials = 5
)

// firstFrameTimeout bounds how long the server waits for a connection
// to identify itself; welcomeTimeout bounds how long a dialing realm
// waits for the server's answer.
const (
	firstFrameTimeout = 10 * time.Second
	welcomeTimeout    = 10 * time.Second
)

// ── Server options ─────────────────────────────

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListenAddr sets the TCP listen address (host:port).
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClaimTTL sets how long an unpaired port leg may stay parked.
func WithClaimTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// WithRate sets the per-member bus rate limit in frames per second and
// the burst size. perSecond <= 0 disables rate limiting.
func WithRate(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.busRate = perSecond
		if burst > 0 {
			s.busBurst = burst
		}
	}
}

// WithAllowedOrigins restricts bus membership to the listed origins.
// An empty list leaves the relay open; origin strings beyond this check
// are not authenticated.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		for _, o := range origins {
			if o != "" {
				s.allowed[o] = struct{}{}
			}
		}
	}
}

// ── Realm options ──────────────────────────────

// RealmOption configures a Realm.
type RealmOption func(*Realm)

// WithRealmLogger sets the realm logger.
func WithRealmLogger(logger *slog.Logger) RealmOption {
	return func(r *Realm) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRedialStrategy sets the backoff between bus re-dial attempts.
func WithRedialStrategy(s backoff.Strategy) RealmOption {
	return func(r *Realm) {
		if s != nil {
			r.redial = s
		}
	}
}

// WithMaxRedials caps re-dial attempts per outage. When they are
// exhausted the realm closes and its subscriptions end.
func WithMaxRedials(n int) RealmOption {
	return func(r *Realm) {
		if n > 0 {
			r.maxRedials = n
		}
	}
}

// WithInboxBuffer sets the per-subscription buffer for bus messages
// fanned out by this realm.
func WithInboxBuffer(n int) RealmOption {
	return func(r *Realm) {
		if n > 0 {
			r.buffer = n
		}
	}
}
