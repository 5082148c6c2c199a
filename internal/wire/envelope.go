package wire

import (
	"encoding/json"
	"fmt"
)

// Heartbeat envelope types. The channel layer consumes these itself; they
// never reach subscribers or the message union.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Envelope is the frame every push-channel message travels in. Data stays
// raw until the type is known; Timestamp is server time in unix
// milliseconds and is informational only - ordering decisions never rest
// on it.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewEnvelope builds an envelope around a marshaled payload.
func NewEnvelope(msgType string, data any, timestamp int64) (Envelope, error) {
	env := Envelope{Type: msgType, Timestamp: timestamp}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodeEnvelope parses a raw frame. A frame that is not a JSON object or
// lacks a type is malformed.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("malformed envelope: missing type")
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.Type, err)
	}
	return data, nil
}

// IsHeartbeat reports whether the envelope is a ping or pong frame.
func (e Envelope) IsHeartbeat() bool {
	return e.Type == TypePing || e.Type == TypePong
}
