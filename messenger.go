package ibox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/ibox/channel"
	"github.com/xraph/ibox/ext"
	"github.com/xraph/ibox/id"
)

// Handler processes one inbound message. For calls, the returned value
// is marshaled into the response and the error (if any) travels to the
// remote caller as a message string. For events, the returned value is
// ignored and the error goes to the diagnostic sink.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// handlerEntry pairs a handler with its identity key. Handlers are
// identified by function pointer: registering the same function value
// twice is a no-op, and Off removes exactly that function.
type handlerEntry struct {
	key uintptr
	fn  Handler
}

// settlement is the single outcome of a pending call.
type settlement struct {
	data json.RawMessage
	err  error
}

// pendingCall is one in-flight call awaiting settlement. done is
// buffered so the settling side never blocks; whoever removes the entry
// from the pending table owns the one send.
type pendingCall struct {
	event   string
	done    chan settlement
	timer   *time.Timer
	started time.Time
}

// Messenger is one end of a dedicated channel: an event emitter, an RPC
// caller, and the dispatcher for inbound traffic. Construct one with
// NewMessenger on a pre-connected port, or let Host/Client hand you one
// after the handshake.
//
// All methods are safe for concurrent use. After Destroy every
// operation fails with ErrDestroyed.
type Messenger struct {
	id     string
	port   channel.Port
	codec  Codec
	logger *slog.Logger
	hooks  *ext.Registry

	// ctx is the messenger lifetime; Destroy cancels it. Handlers
	// receive it and should stop work when it ends.
	ctx    context.Context
	cancel context.CancelFunc

	destroyed atomic.Bool

	// mu guards the pending table, the ID counter, and the destroyed
	// re-check that keeps Call and Destroy from losing entries.
	mu       sync.Mutex
	pending  map[uint64]*pendingCall
	lastID   uint64
	capacity int

	// hmu guards the handler registry. Dispatch snapshots under read
	// lock; mutation is copy-on-write so snapshots stay stable.
	hmu      sync.RWMutex
	handlers map[string][]handlerEntry

	callTimeout time.Duration
}

// NewMessenger starts a messenger on a pre-connected channel endpoint.
// The read loop runs until the port closes or Destroy is called.
func NewMessenger(p channel.Port, opts ...Option) *Messenger {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newMessenger(p, cfg)
}

func newMessenger(p channel.Port, cfg config) *Messenger {
	mid := id.NewMessengerID().String()
	ctx, cancel := context.WithCancel(context.Background())

	hooks := ext.NewRegistry(cfg.logger)
	for _, e := range cfg.extensions {
		hooks.Register(e)
	}

	m := &Messenger{
		id:          mid,
		port:        p,
		codec:       cfg.codec,
		logger:      cfg.logger.With(slog.String("messenger", mid)),
		hooks:       hooks,
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[uint64]*pendingCall),
		capacity:    cfg.callCapacity,
		handlers:    make(map[string][]handlerEntry),
		callTimeout: cfg.callTimeout,
	}
	go m.readLoop()
	return m
}

// ID returns the messenger's typeid for log correlation.
func (m *Messenger) ID() string { return m.id }

// Pending returns the number of in-flight calls.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Destroyed reports whether Destroy has been called.
func (m *Messenger) Destroyed() bool { return m.destroyed.Load() }

// ── Emit ──────────────────────────────────────────

// Emit sends a fire-and-forget event. There is no acknowledgement and
// no retry; a nil return means the frame left this endpoint, not that
// any handler ran remotely.
func (m *Messenger) Emit(event string, payload any) error {
	if m.destroyed.Load() {
		return ErrDestroyed
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrInvalidEvent
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("ibox: emit %q: marshal payload: %w", event, err)
	}
	if err := m.send(m.ctx, NewEvent(event, data)); err != nil {
		return fmt.Errorf("ibox: emit %q: %w", event, err)
	}
	m.hooks.EmitEventEmitted(m.ctx, event)
	return nil
}

// ── Call ──────────────────────────────────────────

// Call sends a request and blocks until it settles: a response arrives,
// the timeout elapses, the messenger is destroyed, or ctx is canceled.
// Each call settles exactly once and leaves no bookkeeping behind.
//
// When the in-flight table already holds its capacity of calls, Call
// fails immediately with ErrBusy and nothing is sent.
func (m *Messenger) Call(ctx context.Context, event string, payload any, opts ...CallOption) (json.RawMessage, error) {
	if m.destroyed.Load() {
		return nil, ErrDestroyed
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, ErrInvalidEvent
	}

	cc := callConfig{timeout: m.callTimeout}
	for _, opt := range opts {
		opt(&cc)
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("ibox: call %q: marshal payload: %w", event, err)
	}

	pc := &pendingCall{
		event:   event,
		done:    make(chan settlement, 1),
		started: time.Now(),
	}

	m.mu.Lock()
	if m.destroyed.Load() {
		m.mu.Unlock()
		return nil, ErrDestroyed
	}
	if len(m.pending) >= m.capacity {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q rejected at %d in-flight calls", ErrBusy, event, m.capacity)
	}
	m.lastID++
	correlID := m.lastID
	pc.timer = time.AfterFunc(cc.timeout, func() { m.expire(correlID, event, cc.timeout) })
	m.pending[correlID] = pc
	m.mu.Unlock()

	if err := m.send(ctx, NewRequest(event, data, correlID)); err != nil {
		if removed := m.remove(correlID); removed != nil {
			removed.timer.Stop()
		}
		return nil, fmt.Errorf("%w: call %q: %w", ErrSendFailed, event, err)
	}
	m.hooks.EmitCallStarted(m.ctx, event, correlID)

	var s settlement
	select {
	case s = <-pc.done:
	case <-ctx.Done():
		if removed := m.remove(correlID); removed != nil {
			removed.timer.Stop()
			s = settlement{err: fmt.Errorf("ibox: call %q: %w", event, ctx.Err())}
		} else {
			// Lost the race: a settlement is already in flight.
			s = <-pc.done
		}
	}

	m.hooks.EmitCallSettled(m.ctx, event, correlID, s.err, time.Since(pc.started))
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

// expire settles a call on the timeout path. The table lookup decides
// ownership: if the response beat us to it, the entry is gone and this
// is a no-op.
func (m *Messenger) expire(correlID uint64, event string, timeout time.Duration) {
	if pc := m.remove(correlID); pc != nil {
		pc.done <- settlement{err: fmt.Errorf("%w: %q after %s", ErrCallTimeout, event, timeout)}
	}
}

// remove deletes and returns a pending entry; nil if already settled.
func (m *Messenger) remove(correlID uint64) *pendingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc := m.pending[correlID]
	delete(m.pending, correlID)
	return pc
}

// ── Handler registry ──────────────────────────────

// On registers a handler for the trimmed event key. Handlers form a set
// per key: registering the same function value again is a no-op. The
// returned unsubscribe is idempotent and equivalent to calling Off with
// the same arguments.
//
// Events fan out to every handler in registration order. Calls invoke
// only the first registered handler; additional handlers are inert for
// request traffic until earlier ones are removed.
func (m *Messenger) On(event string, h Handler) (func(), error) {
	if m.destroyed.Load() {
		return nil, ErrDestroyed
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, ErrInvalidEvent
	}
	if h == nil {
		return nil, ErrInvalidHandler
	}
	key := reflect.ValueOf(h).Pointer()

	m.hmu.Lock()
	set := m.handlers[event]
	exists := false
	for _, entry := range set {
		if entry.key == key {
			exists = true
			break
		}
	}
	if !exists {
		next := make([]handlerEntry, 0, len(set)+1)
		next = append(next, set...)
		next = append(next, handlerEntry{key: key, fn: h})
		m.handlers[event] = next
	}
	m.hmu.Unlock()

	return func() { _ = m.Off(event, h) }, nil
}

// Off removes one handler registration. Removing a handler that is not
// registered is a no-op; when the last handler for a key is removed the
// key itself is dropped.
func (m *Messenger) Off(event string, h Handler) error {
	if m.destroyed.Load() {
		return ErrDestroyed
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrInvalidEvent
	}
	if h == nil {
		return ErrInvalidHandler
	}
	key := reflect.ValueOf(h).Pointer()

	m.hmu.Lock()
	set := m.handlers[event]
	for i, entry := range set {
		if entry.key != key {
			continue
		}
		next := make([]handlerEntry, 0, len(set)-1)
		next = append(next, set[:i]...)
		next = append(next, set[i+1:]...)
		if len(next) == 0 {
			delete(m.handlers, event)
		} else {
			m.handlers[event] = next
		}
		break
	}
	m.hmu.Unlock()
	return nil
}

// Handlers returns the number of handlers registered for the event.
func (m *Messenger) Handlers(event string) int {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	return len(m.handlers[strings.TrimSpace(event)])
}

// snapshotHandlers returns the current handler set for an event. The
// registry uses copy-on-write, so the slice stays valid after release.
func (m *Messenger) snapshotHandlers(event string) []handlerEntry {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	return m.handlers[event]
}

// ── Destroy ───────────────────────────────────────

// Destroy tears the messenger down: the port closes, every pending call
// fails with ErrDestroyed, handlers are dropped, and all later
// operations are rejected. Idempotent; the remote side is not notified
// and its in-flight calls run into their own timeouts.
func (m *Messenger) Destroy() {
	if m.destroyed.Swap(true) {
		return
	}

	m.cancel()
	if err := m.port.Close(); err != nil {
		m.logger.Debug("port close failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	drained := m.pending
	m.pending = make(map[uint64]*pendingCall)
	m.mu.Unlock()

	for _, pc := range drained {
		pc.timer.Stop()
		pc.done <- settlement{err: fmt.Errorf("%w: call %q abandoned", ErrDestroyed, pc.event)}
	}

	m.hmu.Lock()
	m.handlers = make(map[string][]handlerEntry)
	m.hmu.Unlock()

	m.hooks.EmitDestroyed(context.Background(), len(drained))
	m.logger.Info("messenger destroyed", slog.Int("pending_failed", len(drained)))
}

// ── Internals ─────────────────────────────────────

func (m *Messenger) send(ctx context.Context, env *Envelope) error {
	frame, err := m.codec.Encode(env)
	if err != nil {
		return err
	}
	return m.port.Send(ctx, frame)
}

// marshalPayload turns an arbitrary payload into envelope data. Raw
// messages pass through untouched so payloads can be forwarded without
// re-encoding.
func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
