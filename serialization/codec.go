// Package serialization implements the wire codec: one JSON envelope per
// transport frame. Decoding fails closed — malformed or partially valid
// input never yields an envelope, and the returned *contracts.DecodeError
// names the offending byte offset or field.
package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

var errEmptyFrame = errors.New("empty frame")

// Marshal encodes an envelope as a single JSON frame.
func Marshal(env *contracts.Envelope) ([]byte, error) {
	if env == nil {
		return nil, &contracts.DecodeError{Err: errors.New("nil envelope")}
	}
	if err := validate(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a single JSON frame into an envelope.
func Unmarshal(data []byte) (*contracts.Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &contracts.DecodeError{Err: errEmptyFrame}
	}

	var env contracts.Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, decodeError(err)
	}
	// Trailing garbage after the envelope is malformed framing.
	if dec.More() {
		return nil, &contracts.DecodeError{
			Offset: dec.InputOffset(),
			Err:    errors.New("trailing data after envelope"),
		}
	}
	if err := validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func validate(env *contracts.Envelope) error {
	if env.ID == "" {
		return &contracts.DecodeError{Field: "id", Err: errors.New("missing")}
	}
	if !env.Kind.Valid() {
		return &contracts.DecodeError{Field: "kind", Err: fmt.Errorf("unknown kind %q", env.Kind)}
	}
	if env.Kind == contracts.KindRequest && env.Method == "" {
		return &contracts.DecodeError{Field: "method", Err: errors.New("missing on request")}
	}
	if env.Kind == contracts.KindError && env.Fault == nil {
		return &contracts.DecodeError{Field: "error", Err: errors.New("missing on error envelope")}
	}
	return nil
}

func decodeError(err error) *contracts.DecodeError {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &contracts.DecodeError{Offset: syntaxErr.Offset, Err: err}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &contracts.DecodeError{Offset: typeErr.Offset, Field: typeErr.Field, Err: err}
	}
	return &contracts.DecodeError{Err: err}
}
