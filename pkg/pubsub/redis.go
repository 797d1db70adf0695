package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// RedisPubSub implements PubSub interface using Redis.
type RedisPubSub struct {
	client        *redis.Client
	ownsClient    bool
	bufferSize    int
	subscriptions map[string]*redis.PubSub
	mu            sync.RWMutex
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig, bufferSize int) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ps := NewRedisPubSubFromClient(client, bufferSize)
	ps.ownsClient = true
	return ps, nil
}

// NewRedisPubSubFromClient wraps an existing client. Close does not close it.
func NewRedisPubSubFromClient(client *redis.Client, bufferSize int) *RedisPubSub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &RedisPubSub{
		client:        client,
		bufferSize:    bufferSize,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.subscribe(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern subscribes to channels matching a pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.subscribe(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) subscribe(ctx context.Context, key string, ps *redis.PubSub) (<-chan *Event, error) {
	// Wait for the subscription confirmation so publishes issued after
	// Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	r.mu.Lock()
	if existing, ok := r.subscriptions[key]; ok {
		existing.Close()
	}
	r.subscriptions[key] = ps
	r.mu.Unlock()

	eventCh := make(chan *Event, r.bufferSize)
	go r.processMessages(ctx, key, ps, eventCh)

	return eventCh, nil
}

// Unsubscribe unsubscribes from a channel or pattern.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.subscriptions[channel]; ok {
		delete(r.subscriptions, channel)
		if err := ps.Close(); err != nil {
			return err
		}
	}

	return nil
}

// Close closes all subscriptions and, when owned, the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, ps := range r.subscriptions {
		ps.Close()
		delete(r.subscriptions, key)
	}

	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

// processMessages reads messages from the Redis pubsub and sends them to the event channel.
func (r *RedisPubSub) processMessages(ctx context.Context, key string, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := ps.Channel()
	l := log.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l.Warn().Err(err).Str(log.FieldChannel, msg.Channel).Msg("dropping malformed event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				l.Warn().Str(log.FieldChannel, msg.Channel).Str(log.FieldEventID, event.ID).
					Str("subscription", key).Msg("subscriber buffer full, event dropped")
			}
		}
	}
}

// Client returns the underlying Redis client.
func (r *RedisPubSub) Client() *redis.Client {
	return r.client
}
