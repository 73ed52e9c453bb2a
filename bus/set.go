package bus

import "sync"

// SubscriptionSet is a registry of subscriptions with non-blocking
// broadcast delivery. Every Endpoint carries one; bus implementations
// outside this package (the relay bridge) embed one for their own
// fan-out so the delivery/close locking lives in a single place.
//
// Delivery sends under the read lock; unhooking and teardown happen
// under the write lock before any channel closes, so a send can never
// race a close.
type SubscriptionSet struct {
	buffer int

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// NewSubscriptionSet creates an empty set whose subscriptions buffer the
// given number of messages. buffer <= 0 selects
// DefaultSubscriptionBuffer.
func NewSubscriptionSet(buffer int) *SubscriptionSet {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &SubscriptionSet{buffer: buffer}
}

// Subscribe adds a new independent subscription. On a closed set the
// returned subscription is already closed.
func (set *SubscriptionSet) Subscribe() *Subscription {
	s := NewSubscription(set.buffer, set.remove)

	set.mu.Lock()
	if set.closed {
		set.mu.Unlock()
		s.forceClose()
		return s
	}
	set.subs = append(set.subs, s)
	set.mu.Unlock()
	return s
}

// Deliver fans m out to every subscription without blocking and returns
// how many of them did not accept it (full buffer or already closed).
func (set *SubscriptionSet) Deliver(m Message) (dropped int) {
	set.mu.RLock()
	defer set.mu.RUnlock()
	for _, s := range set.subs {
		if !s.Deliver(m) {
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live subscriptions.
func (set *SubscriptionSet) Len() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.subs)
}

// CloseAll closes every subscription and marks the set closed.
// Idempotent; later Subscribe calls hand out closed subscriptions.
func (set *SubscriptionSet) CloseAll() {
	set.mu.Lock()
	if set.closed {
		set.mu.Unlock()
		return
	}
	set.closed = true
	subs := set.subs
	set.subs = nil
	set.mu.Unlock()

	for _, s := range subs {
		s.forceClose()
	}
}

// remove unhooks one subscription on its Close path; the subscription
// closes its own channel afterwards.
func (set *SubscriptionSet) remove(s *Subscription) {
	set.mu.Lock()
	defer set.mu.Unlock()
	for i, cur := range set.subs {
		if cur == s {
			set.subs = append(set.subs[:i], set.subs[i+1:]...)
			return
		}
	}
}
