package ibox

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec frames envelopes as MessagePack, trading readability for
// compact frames on high-traffic channels. Payload data inside the
// envelope stays JSON-encoded so handlers see the same bytes under
// either codec.
type MsgpackCodec struct{}

// Compile-time interface check.
var _ Codec = MsgpackCodec{}

// Encode serializes an envelope into a MessagePack frame.
func (MsgpackCodec) Encode(e *Envelope) ([]byte, error) {
	w := e.wire()
	frame, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("ibox: encode msgpack envelope: %w", err)
	}
	return frame, nil
}

// Decode parses a MessagePack frame into an envelope.
func (MsgpackCodec) Decode(frame []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := msgpack.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("ibox: decode msgpack envelope: %w", err)
	}
	return fromWire(w)
}

// Name returns "msgpack".
func (MsgpackCodec) Name() string { return "msgpack" }
