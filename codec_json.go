package ibox

import (
	"encoding/json"
	"fmt"
)

// JSONCodec frames envelopes as UTF-8 JSON objects. It is the default
// codec and the interoperability baseline: every implementation of the
// wire contract understands it.
type JSONCodec struct{}

// Compile-time interface check.
var _ Codec = JSONCodec{}

// Encode serializes an envelope into a JSON frame.
func (JSONCodec) Encode(e *Envelope) ([]byte, error) {
	w := e.wire()
	frame, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("ibox: encode json envelope: %w", err)
	}
	return frame, nil
}

// Decode parses a JSON frame into an envelope.
func (JSONCodec) Decode(frame []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("ibox: decode json envelope: %w", err)
	}
	return fromWire(w)
}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }
