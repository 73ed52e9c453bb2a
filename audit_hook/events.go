package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionHandshakeCompleted = "handshake.completed"
	ActionEventEmitted       = "event.emitted"
	ActionEventReceived      = "event.received"
	ActionHandlerFailed      = "handler.failed"
	ActionCallStarted        = "call.started"
	ActionCallSettled        = "call.settled"
	ActionRequestServed      = "request.served"
	ActionDestroyed          = "messenger.destroyed"
)

// Audit event categories group related actions.
const (
	CategoryHandshake = "ibox.handshake"
	CategoryEvent     = "ibox.event"
	CategoryCall      = "ibox.call"
	CategoryLifecycle = "ibox.lifecycle"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceMessenger = "messenger"
	ResourceEvent     = "event"
	ResourceCall      = "call"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionHandshakeCompleted,
		ActionEventEmitted,
		ActionEventReceived,
		ActionHandlerFailed,
		ActionCallStarted,
		ActionCallSettled,
		ActionRequestServed,
		ActionDestroyed,
	}
}
