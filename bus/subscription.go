package bus

import (
	"sync/atomic"

	"github.com/xraph/ibox/id"
)

// Message is one unit of bus traffic as seen by a receiver. Origin is
// the sender realm's origin, stamped at delivery time; payloads cannot
// forge it.
type Message struct {
	Origin  string
	Payload any
}

// Subscription is a buffered inbox onto one realm's bus traffic. All
// subscriptions of an endpoint see every message delivered to it.
type Subscription struct {
	id string
	ch chan Message

	// stop detaches this subscription from its owner's registry. Set by
	// the owner; when nil, Close closes the channel directly.
	stop func(*Subscription)

	closed   atomic.Bool
	chClosed atomic.Bool
}

// NewSubscription creates a subscription. buffer <= 0 selects
// DefaultSubscriptionBuffer. stop, when non-nil, is invoked once on
// Close, before the channel closes, so the owning registry can unhook
// the subscription. Most callers want a SubscriptionSet instead, which
// manages the registry and the delivery/close exclusion.
func NewSubscription(buffer int, stop func(*Subscription)) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Subscription{
		id:   id.NewSubscriptionID().String(),
		ch:   make(chan Message, buffer),
		stop: stop,
	}
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the receive channel. It is closed when the subscription is
// closed or its endpoint detaches.
func (s *Subscription) C() <-chan Message { return s.ch }

// Deliver offers a message without blocking and reports whether it was
// accepted. A full buffer or a closed subscription discards the message.
// Callers must hold the owning registry's read lock; unhooking happens
// under the write lock before the channel closes, which is what makes
// the send safe.
func (s *Subscription) Deliver(m Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

// Close tears the subscription down: the stop hook unhooks it from its
// registry, then the channel closes. Idempotent.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.stop != nil {
		s.stop(s)
	}
	s.closeCh()
}

// forceClose closes without the stop hook, for registries tearing down
// wholesale after clearing their slice.
func (s *Subscription) forceClose() {
	s.closed.Store(true)
	s.closeCh()
}

func (s *Subscription) closeCh() {
	if s.chClosed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
