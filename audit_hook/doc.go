// Package audithook is a messenger extension that bridges lifecycle events
// to an immutable audit trail backend such as Chronicle.
//
// Every handshake, event, call, and teardown hook emits a structured audit
// event through the [Recorder] interface. The extension assigns appropriate
// severity levels (info for normal operations, warning for failed handlers,
// failed calls, and destroys that strand in-flight calls) and rich metadata
// (event name, correlation ID, handler counts, elapsed time, errors).
//
// # Usage
//
//	m, err := ibox.Host(ctx, self, child, childOrigin,
//	    ibox.WithExtensions(audithook.New(recorder)))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionHandlerFailed,
//	        audithook.ActionCallSettled,
//	        audithook.ActionDestroyed,
//	    ),
//	)
package audithook
