package bus

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// Wildcard matches any origin when used as a target origin.
	Wildcard = "*"

	// OpaqueOrigin stamps messages posted through a surface that has no
	// sender endpoint. Receivers that validate origins will reject it.
	OpaqueOrigin = "null"

	// DefaultSubscriptionBuffer is the per-subscription inbox capacity.
	DefaultSubscriptionBuffer = 16
)

// Sentinel errors for bus operations.
var (
	ErrBusClosed   = errors.New("bus: broker closed")
	ErrDetached    = errors.New("bus: endpoint detached")
	ErrEmptyOrigin = errors.New("bus: empty origin")
)

// Poster is the posting capability of a remote realm's surface. Post
// delivers payload to that realm when targetOrigin is Wildcard or equals
// the realm's origin; on a mismatch the message vanishes without error,
// mirroring how a misaddressed broadcast is simply never observed.
type Poster interface {
	Post(payload any, targetOrigin string) error
}

// Inbox is the receiving capability of the local realm: a source of new
// independent subscriptions to its bus traffic.
type Inbox interface {
	Subscribe() *Subscription
}

// Broker is the in-process bus. It tracks attached endpoints and owns
// the delivery bookkeeping; all message movement happens through
// endpoints and surfaces.
type Broker struct {
	logger *slog.Logger
	buffer int

	mu        sync.RWMutex
	endpoints []*Endpoint
	closed    bool

	dropped atomic.Uint64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger }
}

// WithSubscriptionBuffer sets the inbox capacity for subscriptions
// created by endpoints of this broker.
func WithSubscriptionBuffer(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroker creates an empty bus.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		logger: slog.Default(),
		buffer: DefaultSubscriptionBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach registers a realm with the given origin and returns its
// endpoint. Multiple endpoints may share an origin; each is a distinct
// realm.
func (b *Broker) Attach(origin string) (*Endpoint, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, ErrEmptyOrigin
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	e := &Endpoint{broker: b, origin: origin, set: NewSubscriptionSet(b.buffer)}
	b.endpoints = append(b.endpoints, e)
	b.logger.Debug("bus endpoint attached", "origin", origin)
	return e, nil
}

// Close detaches every endpoint and rejects further attachments.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	endpoints := b.endpoints
	b.endpoints = nil
	b.mu.Unlock()

	for _, e := range endpoints {
		e.Detach()
	}
}

// Stats reports a point-in-time view of the bus.
type Stats struct {
	Endpoints     int
	Subscriptions int

	// Dropped counts messages discarded because a subscription buffer
	// was full.
	Dropped uint64
}

// Stats returns current broker statistics.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Endpoints: len(b.endpoints),
		Dropped:   b.dropped.Load(),
	}
	for _, e := range b.endpoints {
		s.Subscriptions += e.set.Len()
	}
	return s
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Broker) remove(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.endpoints {
		if cur == e {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}
