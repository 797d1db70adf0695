package push

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// DirectoryConfig configures the Redis presence directory.
type DirectoryConfig struct {
	Prefix            string
	InstanceID        string
	KeyTTL            time.Duration
	HeartbeatInterval time.Duration
}

// Directory records which instance holds each live push session in Redis so
// any instance can answer presence queries. Registry changes are applied to
// an in-memory set immediately and written to Redis by the heartbeat loop.
type Directory struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration

	mu          sync.Mutex
	managedKeys map[string]struct{} // keys owned by this instance
	pending     map[string]bool     // key → true for set, false for delete
	wake        chan struct{}
	cancel      context.CancelFunc
	stopped     chan struct{}
}

// NewDirectory creates a Directory on an existing client.
func NewDirectory(client *redis.Client, cfg DirectoryConfig) *Directory {
	if cfg.Prefix == "" {
		cfg.Prefix = "naildp:push"
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.KeyTTL {
		cfg.HeartbeatInterval = cfg.KeyTTL / 3
	}
	return &Directory{
		client:            client,
		instanceID:        cfg.InstanceID,
		prefix:            cfg.Prefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]struct{}),
		pending:           make(map[string]bool),
		wake:              make(chan struct{}, 1),
	}
}

func (d *Directory) keyFor(scope, key, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s:session:%s", d.prefix, scope, key, sessionID)
}

func (d *Directory) patternFor(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s:session:*", d.prefix, scope, key)
}

// Track implements Presence.
func (d *Directory) Track(scope, key, sessionID string) {
	k := d.keyFor(scope, key, sessionID)
	d.mu.Lock()
	d.managedKeys[k] = struct{}{}
	d.pending[k] = true
	d.mu.Unlock()
	d.signal()
}

// Untrack implements Presence.
func (d *Directory) Untrack(scope, key, sessionID string) {
	k := d.keyFor(scope, key, sessionID)
	d.mu.Lock()
	delete(d.managedKeys, k)
	d.pending[k] = false
	d.mu.Unlock()
	d.signal()
}

func (d *Directory) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Flush writes pending changes to Redis.
func (d *Directory) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]bool)
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	pipe := d.client.Pipeline()
	for k, set := range pending {
		if set {
			pipe.Set(ctx, k, d.instanceID, d.keyTTL)
		} else {
			pipe.Del(ctx, k)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Put back whatever has not been superseded meanwhile.
		d.mu.Lock()
		for k, set := range pending {
			if _, ok := d.pending[k]; !ok {
				d.pending[k] = set
			}
		}
		d.mu.Unlock()
		return fmt.Errorf("failed to flush presence: %w", err)
	}
	return nil
}

// Refresh extends the TTL of every key owned by this instance.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]string, 0, len(d.managedKeys))
	for k := range d.managedKeys {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	pipe := d.client.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, k, d.instanceID, d.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// Sessions returns sessionID → instanceID for every live session of key.
func (d *Directory) Sessions(ctx context.Context, scope, key string) (map[string]string, error) {
	var keys []string
	iter := d.client.Scan(ctx, 0, d.patternFor(scope, key), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence: %w", err)
	}

	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	for i, k := range keys {
		instance, ok := values[i].(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		out[k[strings.LastIndex(k, ":session:")+len(":session:"):]] = instance
	}
	return out, nil
}

// Online reports whether key has at least one live session on any instance.
func (d *Directory) Online(ctx context.Context, scope, key string) (bool, error) {
	sessions, err := d.Sessions(ctx, scope, key)
	if err != nil {
		return false, err
	}
	return len(sessions) > 0, nil
}

// StartHeartbeat runs the flush and refresh loop until StopHeartbeat.
func (d *Directory) StartHeartbeat(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})

	go d.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", d.heartbeatInterval).Dur("ttl", d.keyTTL).Msg("push directory heartbeat started")
}

func (d *Directory) heartbeatLoop(ctx context.Context) {
	defer close(d.stopped)

	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			if err := d.Flush(ctx); err != nil {
				l.Error().Err(err).Msg("presence flush failed")
			}
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil {
				l.Error().Err(err).Msg("presence flush failed")
			}
			if err := d.Refresh(ctx); err != nil {
				l.Error().Err(err).Msg("presence refresh failed")
			}
		}
	}
}

// StopHeartbeat stops the loop and removes this instance's keys.
func (d *Directory) StopHeartbeat() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.stopped

	d.mu.Lock()
	keys := make([]string, 0, len(d.managedKeys))
	for k := range d.managedKeys {
		keys = append(keys, k)
	}
	d.managedKeys = make(map[string]struct{})
	d.pending = make(map[string]bool)
	d.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		l := log.L()
		l.Warn().Err(err).Int("keys", len(keys)).Msg("failed to remove presence keys")
	}
}

// Ensure interface is satisfied at compile time.
var _ Presence = (*Directory)(nil)
