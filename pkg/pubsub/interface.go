package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
)

// Event represents a message published to the event bus.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`         // receiver nickname or room id
	Seq       int64           `json:"seq,omitempty"` // per-topic order, zero when unordered
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with a fresh id and the current timestamp.
func NewEvent(eventType, topic string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        ksuid.New().String(),
		Type:      eventType,
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// WithSeq sets the per-topic sequence and returns the event.
func (e *Event) WithSeq(seq int64) *Event {
	e.Seq = seq
	return e
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
