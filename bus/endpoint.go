package bus

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// Endpoint is one attached realm: a subscription registry plus the
// identity other realms see. It implements Inbox.
type Endpoint struct {
	broker *Broker
	origin string

	detached atomic.Bool
	set      *SubscriptionSet
}

// Compile-time interface check.
var _ Inbox = (*Endpoint)(nil)

// Origin returns the realm origin this endpoint was attached with.
func (e *Endpoint) Origin() string { return e.origin }

// Subscribe returns a new independent inbox for this realm's traffic.
// After Detach the returned subscription is already closed.
func (e *Endpoint) Subscribe() *Subscription {
	return e.set.Subscribe()
}

// SurfaceFor returns a handle for posting into this realm on behalf of
// sender. Messages posted through it carry sender's origin; a nil sender
// produces the opaque origin, which origin-validating receivers reject.
func (e *Endpoint) SurfaceFor(sender *Endpoint) *Surface {
	senderOrigin := OpaqueOrigin
	if sender != nil {
		senderOrigin = sender.origin
	}
	return &Surface{target: e, senderOrigin: senderOrigin}
}

// Detach removes the realm from the bus and closes all of its
// subscriptions. Idempotent; posting to a detached endpoint fails with
// ErrDetached.
func (e *Endpoint) Detach() {
	if e.detached.Swap(true) {
		return
	}

	e.set.CloseAll()
	e.broker.remove(e)
	e.broker.logger.Debug("bus endpoint detached", "origin", e.origin)
}

// deliver fans a message out to every subscription.
func (e *Endpoint) deliver(m Message) {
	if dropped := e.set.Deliver(m); dropped > 0 {
		e.broker.dropped.Add(uint64(dropped))
		e.broker.logger.Debug("bus messages dropped",
			"target", e.origin, "from", m.Origin, slog.Int("count", dropped))
	}
}

// Surface is a postable handle onto an endpoint, bound to the sender it
// was minted for. It implements Poster.
type Surface struct {
	target       *Endpoint
	senderOrigin string
}

// Compile-time interface check.
var _ Poster = (*Surface)(nil)

// Post delivers payload to the target realm when targetOrigin is
// Wildcard or equals the realm's origin. On an origin mismatch the
// message is silently discarded: the sender cannot probe which origins
// exist behind a surface. Posting to a detached endpoint or a closed
// broker returns an error.
func (s *Surface) Post(payload any, targetOrigin string) error {
	e := s.target
	if e.detached.Load() {
		return ErrDetached
	}
	if e.broker.isClosed() {
		return ErrBusClosed
	}

	targetOrigin = strings.TrimSpace(targetOrigin)
	if targetOrigin == "" {
		return ErrEmptyOrigin
	}
	if targetOrigin != Wildcard && targetOrigin != e.origin {
		e.broker.logger.Debug("bus post discarded by target origin",
			"target_origin", targetOrigin, "endpoint", e.origin, "from", s.senderOrigin)
		return nil
	}

	e.deliver(Message{Origin: s.senderOrigin, Payload: payload})
	return nil
}
