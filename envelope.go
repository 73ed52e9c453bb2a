package ibox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the three envelope shapes that cross a channel.
type Kind uint8

const (
	// KindInvalid is the zero Kind; no valid envelope carries it.
	KindInvalid Kind = iota

	// KindEvent is a fire-and-forget notification.
	KindEvent

	// KindRequest is a call expecting exactly one response.
	KindRequest

	// KindResponse answers a request, carrying data or an error message.
	KindResponse
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Envelope is the tagged union for channel traffic. Exactly one shape is
// valid per Kind; use the constructors so the shape invariants hold.
//
// Correlation IDs are positive and monotonically increasing per
// messenger; zero means absent. A response echoes the request's
// correlation ID in ResponseID. ErrMessage carries a remote failure as a
// bare message string; type, cause chain, and stack never cross the
// wire.
type Envelope struct {
	Kind       Kind
	Event      string
	Data       json.RawMessage
	CorrelID   uint64
	ResponseID uint64
	ErrMessage string
}

// errEnvelopeEmpty marks a decoded frame with none of the recognized
// fields. Such frames are foreign bus noise and are dropped silently.
var errEnvelopeEmpty = errors.New("ibox: empty envelope")

// NewEvent creates a fire-and-forget event envelope.
func NewEvent(event string, data json.RawMessage) *Envelope {
	return &Envelope{Kind: KindEvent, Event: event, Data: data}
}

// NewRequest creates a call envelope with the given correlation ID.
func NewRequest(event string, data json.RawMessage, correlID uint64) *Envelope {
	return &Envelope{Kind: KindRequest, Event: event, Data: data, CorrelID: correlID}
}

// NewResponse creates a successful response to the request identified by
// responseID.
func NewResponse(responseID uint64, data json.RawMessage) *Envelope {
	return &Envelope{Kind: KindResponse, ResponseID: responseID, Data: data}
}

// NewErrorResponse creates a failure response carrying only the message
// string.
func NewErrorResponse(responseID uint64, msg string) *Envelope {
	return &Envelope{Kind: KindResponse, ResponseID: responseID, ErrMessage: msg}
}

// Validate checks the union invariants for the envelope's Kind.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindEvent:
		if e.Event == "" {
			return fmt.Errorf("ibox: event envelope without event name")
		}
		if e.CorrelID != 0 || e.ResponseID != 0 || e.ErrMessage != "" {
			return fmt.Errorf("ibox: event envelope carries call fields")
		}
	case KindRequest:
		if e.Event == "" {
			return fmt.Errorf("ibox: request envelope without event name")
		}
		if e.CorrelID == 0 {
			return fmt.Errorf("ibox: request envelope without correlation id")
		}
		if e.ResponseID != 0 || e.ErrMessage != "" {
			return fmt.Errorf("ibox: request envelope carries response fields")
		}
	case KindResponse:
		if e.ResponseID == 0 {
			return fmt.Errorf("ibox: response envelope without response id")
		}
		if e.Event != "" || e.CorrelID != 0 {
			return fmt.Errorf("ibox: response envelope carries request fields")
		}
		if e.ErrMessage != "" && len(e.Data) > 0 {
			return fmt.Errorf("ibox: response envelope carries both data and error")
		}
	default:
		return fmt.Errorf("ibox: invalid envelope kind %d", e.Kind)
	}
	return nil
}

// wireEnvelope is the flat frame layout shared by all codecs. The field
// names are the cross-version compatibility contract and never change.
type wireEnvelope struct {
	Event      string          `json:"event,omitempty" msgpack:"event,omitempty"`
	Data       json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	CorrelID   uint64          `json:"_ibox_id,omitempty" msgpack:"_ibox_id,omitempty"`
	ResponseID uint64          `json:"_ibox_res_id,omitempty" msgpack:"_ibox_res_id,omitempty"`
	ErrMessage string          `json:"_ibox_error,omitempty" msgpack:"_ibox_error,omitempty"`
}

func (e *Envelope) wire() wireEnvelope {
	return wireEnvelope{
		Event:      e.Event,
		Data:       e.Data,
		CorrelID:   e.CorrelID,
		ResponseID: e.ResponseID,
		ErrMessage: e.ErrMessage,
	}
}

// fromWire rebuilds the union from a decoded frame, inferring Kind from
// which fields are present. Decoding is liberal: a response is
// recognized by its response ID alone so that unknown extra fields from
// newer peers do not break dispatch.
func fromWire(w wireEnvelope) (*Envelope, error) {
	switch {
	case w.ResponseID != 0:
		if w.ErrMessage != "" {
			return NewErrorResponse(w.ResponseID, w.ErrMessage), nil
		}
		return NewResponse(w.ResponseID, w.Data), nil
	case w.Event != "" && w.CorrelID != 0:
		return NewRequest(w.Event, w.Data, w.CorrelID), nil
	case w.Event != "":
		return NewEvent(w.Event, w.Data), nil
	default:
		return nil, errEnvelopeEmpty
	}
}
