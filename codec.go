package ibox

// Codec serializes envelopes to channel frames and back. Both ends of a
// channel must use the same codec; the host's codec name travels in the
// port grant so the client picks it up automatically.
type Codec interface {
	// Encode serializes an envelope into a frame.
	Encode(e *Envelope) ([]byte, error)

	// Decode parses a frame into an envelope.
	Decode(frame []byte) (*Envelope, error)

	// Name returns the codec identifier used in port grants.
	Name() string
}

// GetCodec returns the codec registered under name. Unknown names fall
// back to JSON, the wire default.
func GetCodec(name string) Codec {
	switch name {
	case "msgpack":
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}
