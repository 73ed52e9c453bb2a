package ibox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xraph/ibox/channel"
)

// readLoop drains the port until it closes or the messenger is
// destroyed. Frames that do not decode are dropped with a log line;
// the loop itself only ever stops on channel teardown.
func (m *Messenger) readLoop() {
	for {
		frame, err := m.port.Recv(m.ctx)
		if err != nil {
			if !m.destroyed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, channel.ErrClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Warn("read loop stopped", slog.String("error", err.Error()))
			}
			return
		}

		env, err := m.codec.Decode(frame)
		if err != nil {
			if errors.Is(err, errEnvelopeEmpty) {
				m.logger.Debug("dropping empty frame")
			} else {
				m.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
			}
			continue
		}
		if m.destroyed.Load() {
			return
		}

		switch env.Kind {
		case KindResponse:
			m.handleResponse(env)
		case KindRequest:
			m.handleRequest(env)
		case KindEvent:
			m.handleEvent(env)
		default:
			m.logger.Debug("dropping frame with unknown kind", slog.String("event", env.Event))
		}
	}
}

// handleResponse settles the matching pending call. Removal from the
// table is the ownership handoff: if the entry is already gone the call
// settled some other way and the response is stale.
func (m *Messenger) handleResponse(env *Envelope) {
	pc := m.remove(env.ResponseID)
	if pc == nil {
		m.logger.Debug("dropping response with no pending call",
			slog.Uint64("correl_id", env.ResponseID))
		return
	}
	pc.timer.Stop()

	if env.ErrMessage != "" {
		pc.done <- settlement{err: fmt.Errorf("%w: %s", ErrRemote, env.ErrMessage)}
		return
	}
	pc.done <- settlement{data: env.Data}
}

// handleRequest serves a request against the first registered handler.
// Requests with no handler are dropped; the remote caller runs into its
// timeout rather than receiving a synthetic error.
func (m *Messenger) handleRequest(env *Envelope) {
	set := m.snapshotHandlers(env.Event)
	if len(set) == 0 {
		m.logger.Debug("dropping request with no handler", slog.String("event", env.Event))
		return
	}
	go m.serveRequest(env, set[0].fn)
}

// serveRequest runs one handler and ships its outcome back as a
// response. Handler errors travel as message strings; marshal failures
// of the result are reported the same way so the caller is never left
// waiting on a reply that cannot be encoded.
func (m *Messenger) serveRequest(env *Envelope, h Handler) {
	started := time.Now()
	result, err := m.invoke(env.Event, env.Data, h)

	var reply *Envelope
	if err != nil {
		reply = NewErrorResponse(env.CorrelID, err.Error())
	} else {
		data, merr := marshalPayload(result)
		if merr != nil {
			reply = NewErrorResponse(env.CorrelID, fmt.Sprintf("marshal result: %v", merr))
			err = merr
		} else {
			reply = NewResponse(env.CorrelID, data)
		}
	}

	if serr := m.send(m.ctx, reply); serr != nil {
		if !m.destroyed.Load() {
			m.logger.Warn("response send failed",
				slog.String("event", env.Event),
				slog.Uint64("correl_id", env.CorrelID),
				slog.String("error", serr.Error()))
		}
		return
	}
	m.hooks.EmitRequestServed(m.ctx, env.Event, err, time.Since(started))
}

// handleEvent fans the event out to every handler in registration
// order. Handler errors do not stop the fan-out and never reach the
// remote side; they go to the logger and the HandlerFailed hook.
func (m *Messenger) handleEvent(env *Envelope) {
	set := m.snapshotHandlers(env.Event)
	m.hooks.EmitEventReceived(m.ctx, env.Event, len(set))
	if len(set) == 0 {
		m.logger.Debug("dropping event with no handler", slog.String("event", env.Event))
		return
	}

	for _, entry := range set {
		if _, err := m.invoke(env.Event, env.Data, entry.fn); err != nil {
			m.logger.Error("event handler failed",
				slog.String("event", env.Event),
				slog.String("error", err.Error()))
			m.hooks.EmitHandlerFailed(m.ctx, env.Event, err)
		}
	}
}

// invoke runs one handler with panic containment. A panicking handler
// must not take the read loop down with it.
func (m *Messenger) invoke(event string, data []byte, h Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			m.logger.Error("handler panicked",
				slog.String("event", event),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	return h(m.ctx, data)
}
