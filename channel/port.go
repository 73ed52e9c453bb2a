package channel

import (
	"context"
	"errors"
)

// DefaultBuffer is the per-direction frame buffer used by Pair when the
// caller does not specify one.
const DefaultBuffer = 32

// ErrClosed is returned by Send and Recv after the port has been closed
// locally, and by Send when the peer endpoint has been closed.
var ErrClosed = errors.New("channel: port closed")

// Port is one endpoint of a dedicated duplex channel. Frames are opaque
// byte slices delivered reliably and in send order, one reader and one
// writer per direction.
//
// Close is idempotent and terminal: a closed port cannot be reopened and
// the channel cannot be re-established. After the peer closes, Recv drains
// frames already in flight and then reports io.EOF.
type Port interface {
	// Send delivers one frame to the peer. It blocks while the channel
	// is congested and unblocks on delivery, close, or ctx expiry.
	Send(ctx context.Context, frame []byte) error

	// Recv returns the next frame from the peer, blocking until one is
	// available, the port closes, or ctx expires.
	Recv(ctx context.Context) ([]byte, error)

	// Close tears down this endpoint. Safe to call more than once.
	Close() error
}

// Opener produces a live Port on demand. Implemented by port grants so
// the grant receiver can open its channel endpoint without knowing the
// transport behind it.
type Opener interface {
	OpenPort(ctx context.Context) (Port, error)
}
