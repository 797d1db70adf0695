package push

import (
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
)

// Envelope types produced by the push layer itself.
const (
	TypeConnected = "connected"
	TypePong      = "pong"
	TypeError     = "error"
	TypeGap       = "chat.gap"
)

// Gap tells a room stream that an envelope arrived after a later sequence
// number had already been delivered and was not forwarded. Clients recover
// the message by re-reading the room history.
type Gap struct {
	MissedSeq int64 `json:"missed_seq"`
	LastSeq   int64 `json:"last_seq"`
}

// Envelope is what a client receives on a push channel. ID doubles as the
// SSE event id.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with a fresh id.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{
		ID:        ksuid.New().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}

// FromEvent converts a bus event into an envelope.
func FromEvent(ev *pubsub.Event) Envelope {
	return Envelope{
		ID:        ev.ID,
		Type:      ev.Type,
		Seq:       ev.Seq,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	}
}

// ErrorEnvelope builds an error reply carrying a stable code.
func ErrorEnvelope(code, message string) Envelope {
	env, _ := NewEnvelope(TypeError, map[string]string{"code": code, "message": message})
	return env
}
