package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/nail-dp-dev/naildp-realtime/pkg/config"
	"github.com/nail-dp-dev/naildp-realtime/pkg/database"
	"github.com/nail-dp-dev/naildp-realtime/pkg/idgen"
	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
	"github.com/nail-dp-dev/naildp-realtime/pkg/pubsub"
	"github.com/nail-dp-dev/naildp-realtime/pkg/storage"
)

type Config struct {
	InstanceID string `mapstructure:"instance_id"`
	Server     ServerConfig
	Database   database.Config
	Redis      RedisConfig
	PubSub     pubsub.Config `mapstructure:"pubsub"`
	Storage    storage.Config
	Auth       AuthConfig
	Push       PushConfig
	Chat       ChatConfig
	Log        pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type PushConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	DirectoryPrefix   string        `mapstructure:"directory_prefix"`
	DirectoryTTL      time.Duration `mapstructure:"directory_ttl"`
}

type ChatConfig struct {
	RoomPageSize    int           `mapstructure:"room_page_size"`
	RoomPageMax     int           `mapstructure:"room_page_max"`
	MessagePageSize int           `mapstructure:"message_page_size"`
	MessagePageMax  int           `mapstructure:"message_page_max"`
	CachePrefix     string        `mapstructure:"cache_prefix"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	MaxImages       int           `mapstructure:"max_images"`
}

// Load reads config.yaml from configPath (and the usual fallbacks) and
// applies defaults and environment overrides.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.Auth.TokenTTL = parseDuration(v, "auth.token_ttl", 24*time.Hour)
	cfg.Push.IdleTimeout = parseDuration(v, "push.idle_timeout", 2*time.Minute)
	cfg.Push.PruneInterval = parseDuration(v, "push.prune_interval", 30*time.Second)
	cfg.Push.HeartbeatInterval = parseDuration(v, "push.heartbeat_interval", 25*time.Second)
	cfg.Push.WriteWait = parseDuration(v, "push.write_wait", 10*time.Second)
	cfg.Push.PingInterval = parseDuration(v, "push.ping_interval", 30*time.Second)
	cfg.Push.PongWait = parseDuration(v, "push.pong_wait", 60*time.Second)
	cfg.Push.DirectoryTTL = parseDuration(v, "push.directory_ttl", 30*time.Second)
	cfg.Chat.CacheTTL = parseDuration(v, "chat.cache_ttl", 10*time.Minute)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (JWT_SECRET)")
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	cfg.Log.InstanceID = cfg.InstanceID
	cfg.PubSub.Kafka.InstanceID = cfg.InstanceID

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "naildp")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "naildp")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Seoul")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", "200ms")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.buffer_size", 256)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "naildp-realtime")
	v.SetDefault("pubsub.kafka.partitions", 8)
	v.SetDefault("pubsub.kafka.topic_prefix", "naildp")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/media")
	v.SetDefault("storage.local.public_url", "/media")
	v.SetDefault("storage.s3.region", "ap-northeast-2")

	v.SetDefault("auth.issuer", "naildp")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("push.buffer_size", 64)
	v.SetDefault("push.idle_timeout", "2m")
	v.SetDefault("push.prune_interval", "30s")
	v.SetDefault("push.heartbeat_interval", "25s")
	v.SetDefault("push.write_wait", "10s")
	v.SetDefault("push.ping_interval", "30s")
	v.SetDefault("push.pong_wait", "60s")
	v.SetDefault("push.max_message_size", 8192)
	v.SetDefault("push.directory_prefix", "naildp:push")
	v.SetDefault("push.directory_ttl", "30s")

	v.SetDefault("chat.room_page_size", 20)
	v.SetDefault("chat.room_page_max", 50)
	v.SetDefault("chat.message_page_size", 50)
	v.SetDefault("chat.message_page_max", 100)
	v.SetDefault("chat.cache_prefix", "naildp:chat:messages")
	v.SetDefault("chat.cache_ttl", "10m")
	v.SetDefault("chat.max_upload_size", 50<<20)
	v.SetDefault("chat.max_images", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "naildp-realtime")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("instance_id", "INSTANCE_ID")
	v.BindEnv("server.port", "PORT")

	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")

	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.topic_prefix", "KAFKA_TOPIC_PREFIX")

	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.region", "AWS_REGION")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")

	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")
}

// defaultInstanceID is hostname plus a short random suffix so replicas that
// share a hostname still get distinct bus consumer groups.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "naildp"
	}
	gen, err := idgen.NewNanoIDGenerator(8, "0123456789abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		return host
	}
	suffix, err := gen.Generate()
	if err != nil {
		return host
	}
	return host + "-" + suffix
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
