package channel

import (
	"context"
	"io"
	"sync/atomic"
)

// memPort is one end of an in-process port pair. The two ends share a
// pair of buffered frame channels plus a close signal per side.
type memPort struct {
	out chan []byte
	in  chan []byte

	// local is closed when this end closes; remote is the peer's local.
	local  chan struct{}
	remote chan struct{}

	closed atomic.Bool
}

// Compile-time interface check.
var _ Port = (*memPort)(nil)

// Pair returns two linked in-process ports. Frames written to one end are
// read from the other in send order. buffer is the per-direction capacity;
// values <= 0 select DefaultBuffer.
func Pair(buffer int) (Port, Port) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	ac := make(chan struct{})
	bc := make(chan struct{})

	a := &memPort{out: ab, in: ba, local: ac, remote: bc}
	b := &memPort{out: ba, in: ab, local: bc, remote: ac}
	return a, b
}

func (p *memPort) Send(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case <-p.remote:
		return ErrClosed
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.local:
		return ErrClosed
	case <-p.remote:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *memPort) Recv(ctx context.Context) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	// Frames that arrived before a peer close are still delivered.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.local:
		return nil, ErrClosed
	case <-p.remote:
		// The peer closed; hand out anything that raced in first.
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *memPort) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		close(p.local)
	}
	return nil
}
