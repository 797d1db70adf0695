package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("pubsub: closed")

type memorySubscription struct {
	key     string
	pattern bool
	ch      chan *Event
	cancel  context.CancelFunc
}

// MemoryPubSub is an in-process bus. Events are copied per subscriber, and a
// full subscriber buffer drops the event for that subscriber only.
type MemoryPubSub struct {
	bufferSize    int
	subscriptions map[string]*memorySubscription
	closed        bool
	mu            sync.RWMutex
}

// NewMemoryPubSub creates an in-memory bus.
func NewMemoryPubSub(bufferSize int) *MemoryPubSub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryPubSub{
		bufferSize:    bufferSize,
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish delivers the event to every matching subscriber.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	// Round-trip through JSON so subscribers never share the producer's value.
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for _, sub := range m.subscriptions {
		if sub.pattern && !matchPattern(sub.key, channel) {
			continue
		}
		if !sub.pattern && sub.key != channel {
			continue
		}

		var copied Event
		if err := json.Unmarshal(data, &copied); err != nil {
			return err
		}
		select {
		case sub.ch <- &copied:
		default:
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.subscribe(ctx, channel, false)
}

func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return m.subscribe(ctx, pattern, true)
}

func (m *MemoryPubSub) subscribe(ctx context.Context, key string, pattern bool) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if existing, ok := m.subscriptions[key]; ok {
		m.removeLocked(existing)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, m.bufferSize),
		cancel:  cancel,
	}
	m.subscriptions[key] = sub

	go func() {
		<-subCtx.Done()
		m.mu.Lock()
		if current, ok := m.subscriptions[key]; ok && current == sub {
			m.removeLocked(sub)
		}
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

func (m *MemoryPubSub) removeLocked(sub *memorySubscription) {
	delete(m.subscriptions, sub.key)
	sub.cancel()
	close(sub.ch)
}

func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscriptions[channel]; ok {
		m.removeLocked(sub)
	}
	return nil
}

func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		m.removeLocked(sub)
	}
	m.closed = true
	return nil
}
