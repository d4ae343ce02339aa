// Package host is the boundary to the hosting environment: speak requests come in,
// audio handles and failures go out.
package host

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"talkinghead/internal/scene"
	"talkinghead/internal/session"
	"talkinghead/internal/speech"
)

type MessageType string

const (
	// client to server
	TypeSpeak MessageType = "speak"
	TypeStop  MessageType = "stop"

	// server to client
	TypeValue MessageType = "value"
	TypeError MessageType = "error"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SpeakPayload struct {
	Text string `json:"text"`
}

// ValuePayload is the one value reported per successful session.
type ValuePayload struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
}

type ErrorPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Encode builds a wire message of type t around payload.
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses the envelope; the payload is left raw for DecodePayload.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("message has no type")
	}
	return &env, nil
}

func DecodePayload(env *Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", env.Type)
	}
	if err := sonic.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}

// ErrorKind maps a session failure onto the short name clients switch on.
func ErrorKind(err error) string {
	var synthErr *speech.SynthesisError
	var loadErr *scene.AssetLoadError
	switch {
	case errors.Is(err, speech.ErrNoInput):
		return "no_input"
	case errors.As(err, &synthErr):
		return "synthesis"
	case errors.As(err, &loadErr):
		return "asset_load"
	case errors.Is(err, session.ErrSuperseded):
		return "superseded"
	default:
		return "internal"
	}
}
