package contracts

import (
	"encoding/json"
	"time"
)

// Kind identifies the role of an envelope on the wire.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
)

// Valid reports whether k is one of the three wire kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindError:
		return true
	}
	return false
}

// Envelope is a single protocol message unit exchanged with the server.
// The payload is opaque to the bridge; only the serialization package and the
// domain facades interpret it.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Method    string          `json:"method,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Fault     *ServerFault    `json:"error,omitempty"`
}

// ServerFault carries the server-reported failure on a KindError envelope.
type ServerFault struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewRequest builds a request envelope with the given correlation id.
func NewRequest(id, method string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        id,
		Kind:      KindRequest,
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponse builds a response envelope correlated to a prior request.
func NewResponse(id, method string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:        id,
		Kind:      KindResponse,
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorEnvelope builds an error envelope correlated to a prior request.
func NewErrorEnvelope(id, code, message string) *Envelope {
	return &Envelope{
		ID:        id,
		Kind:      KindError,
		Timestamp: time.Now().UTC(),
		Fault:     &ServerFault{Code: code, Message: message},
	}
}
