package ibox

import (
	"context"
	"fmt"

	"github.com/xraph/ibox/bus"
	"github.com/xraph/ibox/channel"
)

// Wire identities of the two handshake signals. In-process buses carry
// them as ReadySignal and PortGrant values; the relay bridge maps those
// to and from these tokens on its wire. The strings are part of the
// cross-version compatibility contract.
const (
	// TokenReady announces an embedded child realm to its host.
	TokenReady = "IBOX_READY"

	// TokenPort transfers a dedicated channel endpoint to the child.
	TokenPort = "IBOX_PORT"
)

// ReadySignal is the bus payload a client posts to announce itself.
type ReadySignal struct{}

// PortGrant is the bus payload a host posts to hand the child its
// channel endpoint. It implements channel.Opener; Format names the frame
// codec the host will speak.
type PortGrant struct {
	Format string
	port   channel.Port
}

// Compile-time interface checks.
var (
	_ channel.Opener = PortGrant{}
	_ codecCarrier   = PortGrant{}
)

// NewPortGrant wraps an already-open port endpoint for transfer across
// an in-process bus.
func NewPortGrant(p channel.Port, format string) PortGrant {
	return PortGrant{Format: format, port: p}
}

// OpenPort returns the transferred endpoint.
func (g PortGrant) OpenPort(context.Context) (channel.Port, error) {
	if g.port == nil {
		return nil, fmt.Errorf("ibox: port grant carries no endpoint")
	}
	return g.port, nil
}

// CodecName returns the codec the granting side will use.
func (g PortGrant) CodecName() string { return g.Format }

// codecCarrier lets a grant dictate the frame codec to its receiver.
type codecCarrier interface {
	CodecName() string
}

// ChannelFactory mints dedicated channels on the host side. NewChannel
// returns the host's endpoint plus the grant payload to post to the
// child; format names the codec the host will frame with, for embedding
// in the grant.
type ChannelFactory interface {
	NewChannel(ctx context.Context, format string) (local channel.Port, grant any, err error)
}

// memChannelFactory is the default factory: in-process port pairs.
type memChannelFactory struct {
	buffer int
}

func (f memChannelFactory) NewChannel(_ context.Context, format string) (channel.Port, any, error) {
	local, remote := channel.Pair(f.buffer)
	return local, NewPortGrant(remote, format), nil
}

// handshakeState tracks coordinator progress for logging and tests.
type handshakeState uint8

const (
	stateListening handshakeState = iota
	stateAnnouncing
	stateGranted
	stateFailed
)

func (s handshakeState) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateAnnouncing:
		return "announcing"
	case stateGranted:
		return "granted"
	default:
		return "failed"
	}
}

// originAllowed reports whether an observed sender origin satisfies the
// configured expectation. The wildcard accepts anything; callers warn
// when configuring it.
func originAllowed(expected, actual string) bool {
	return expected == bus.Wildcard || expected == actual
}
