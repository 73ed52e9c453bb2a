// Package ext defines the extension system for ibox messengers.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting audit trails, feeding dashboards, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnCallSettled(ctx context.Context, event string, correlID uint64, callErr error, elapsed time.Duration) error {
//	    log.Printf("call %s[%d] settled in %s", event, correlID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [HandshakeCompleted] — a handshake resolved and a messenger exists
//   - [EventEmitted] — a fire-and-forget event was sent
//   - [EventReceived] — an inbound event was dispatched to handlers
//   - [HandlerFailed] — an event handler returned an error or panicked
//   - [CallStarted] — an outbound call was sent
//   - [CallSettled] — an outbound call settled (response, timeout, destroy, or cancel)
//   - [RequestServed] — an inbound call was answered
//   - [Destroyed] — the messenger was torn down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
