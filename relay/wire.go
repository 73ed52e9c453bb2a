package relay

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the frame category on the relay wire.
type FrameType string

const (
	// FrameHello is the first frame of a bus membership connection.
	FrameHello FrameType = "hello"

	// FrameWelcome acknowledges a hello.
	FrameWelcome FrameType = "welcome"

	// FrameBus carries one unit of broadcast bus traffic.
	FrameBus FrameType = "bus"

	// FrameDial is the first frame of a port leg connection.
	FrameDial FrameType = "dial"

	// FrameAttached tells a port leg its peer has arrived; everything
	// after it on the connection is raw channel frames.
	FrameAttached FrameType = "attached"

	// FrameError reports a terminal protocol failure before disconnect.
	FrameError FrameType = "error"
)

// Frame is the relay wire envelope, always JSON text. The first frame of
// a connection decides its mode: hello makes it a bus member, dial makes
// it a port leg. Port legs stop speaking frames once attached.
type Frame struct {
	// Type categorizes the frame.
	Type FrameType `json:"type"`

	// Origin is the sender realm's origin. Clients set it on hello;
	// on bus frames the server overwrites it with the hello origin, so
	// receivers can trust it.
	Origin string `json:"origin,omitempty"`

	// Target scopes a bus frame to one receiving origin; "*" matches
	// every realm. Filtering happens on the receiving bridge.
	Target string `json:"target,omitempty"`

	// Token marks a bus frame as a handshake signal (the ready or port
	// sentinel). Empty for ordinary payload traffic.
	Token string `json:"token,omitempty"`

	// Claim is the rendezvous identifier a port grant carries and a
	// dial frame redeems.
	Claim string `json:"claim,omitempty"`

	// Format names the channel frame codec the granting side will use.
	Format string `json:"format,omitempty"`

	// Data carries an ordinary bus payload when Token is empty.
	Data json.RawMessage `json:"data,omitempty"`

	// Member is the server-assigned membership identifier, set on
	// welcome frames.
	Member string `json:"member,omitempty"`

	// Error holds the failure message on error frames.
	Error string `json:"error,omitempty"`
}

// encodeFrame serializes a frame for a text message.
func encodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("relay: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// decodeFrame parses a text message into a frame.
func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("relay: decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("relay: frame without type")
	}
	return &f, nil
}
