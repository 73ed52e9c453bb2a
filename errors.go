package ibox

import "errors"

var (
	// Usage errors.
	ErrDestroyed      = errors.New("ibox: messenger destroyed")
	ErrInvalidEvent   = errors.New("ibox: event name must be a non-empty string")
	ErrInvalidHandler = errors.New("ibox: handler must be non-nil")

	// Call errors.
	ErrBusy        = errors.New("ibox: pending call table full")
	ErrCallTimeout = errors.New("ibox: call timed out")
	ErrSendFailed  = errors.New("ibox: send failed")
	ErrRemote      = errors.New("ibox: remote handler failed")

	// Handler errors.
	ErrHandlerPanic = errors.New("ibox: handler panicked")

	// Handshake errors.
	ErrHandshakeTimeout = errors.New("ibox: handshake timed out")
	ErrNoChildSurface   = errors.New("ibox: no embeddable child surface")
	ErrNoParentSurface  = errors.New("ibox: no parent surface")
	ErrInvalidOrigin    = errors.New("ibox: origin must be a non-empty string")
)
