package pubsub

import (
	"fmt"
	"time"
)

// KafkaConfig holds Kafka-specific configuration.
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	GroupID     string `mapstructure:"group_id"`
	Partitions  int    `mapstructure:"partitions"`
	TopicPrefix string `mapstructure:"topic_prefix"`

	// InstanceID makes pattern consumer groups unique per process so every
	// instance receives every message. Set by the caller.
	InstanceID string `mapstructure:"-"`
}

// Config holds the configuration for the pub/sub system.
type Config struct {
	Driver     string      `mapstructure:"driver"` // "redis", "kafka", "memory"
	BufferSize int         `mapstructure:"buffer_size"`
	Redis      RedisConfig `mapstructure:"redis"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

const defaultBufferSize = 256

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:     "redis",
		BufferSize: defaultBufferSize,
		Redis: RedisConfig{
			Address:      "localhost:6379",
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:     "localhost:9092",
			GroupID:     "naildp-realtime",
			Partitions:  8,
			TopicPrefix: "naildp",
		},
	}
}

// NewPubSub creates a new PubSub instance based on the configuration.
func NewPubSub(cfg Config) (PubSub, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPubSub(cfg.Kafka, cfg.BufferSize)
	case "redis", "":
		return NewRedisPubSub(cfg.Redis, cfg.BufferSize)
	case "memory":
		return NewMemoryPubSub(cfg.BufferSize), nil
	default:
		return nil, fmt.Errorf("unsupported pubsub driver: %s", cfg.Driver)
	}
}
