package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nail-dp-dev/naildp-realtime/pkg/response"
)

var ErrCacheMiss = errors.New("cache miss")

// MessagePage is one cursor page of a room's messages.
type MessagePage = response.Page[MessageView]

// MessageCache stores immutable message pages.
type MessageCache interface {
	BuildKey(roomID, cursor string, size int) string
	Get(ctx context.Context, key string) (*MessagePage, error)
	Set(ctx context.Context, key string, page *MessagePage, ttl time.Duration) error
}

// RedisMessageCache implements MessageCache on Redis.
type RedisMessageCache struct {
	client *redis.Client
	prefix string
}

// NewRedisMessageCache creates a cache using an existing client.
func NewRedisMessageCache(client *redis.Client, prefix string) *RedisMessageCache {
	if prefix == "" {
		prefix = "chat:history"
	}
	return &RedisMessageCache{client: client, prefix: prefix}
}

func (c *RedisMessageCache) BuildKey(roomID, cursor string, size int) string {
	return fmt.Sprintf("%s:%s:%s:%d", c.prefix, roomID, cursor, size)
}

func (c *RedisMessageCache) Get(ctx context.Context, key string) (*MessagePage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var page MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &page, nil
}

func (c *RedisMessageCache) Set(ctx context.Context, key string, page *MessagePage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}
