// Package config loads cart-sync settings from an optional TOML file, then
// lets environment variables override individual values.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	HTTPPort        string        `toml:"http_port"`
	RequestTimeout  time.Duration `toml:"-"`
	ShutdownTimeout time.Duration `toml:"-"`
	LogLevel        string        `toml:"log_level"`

	// SessionUserID is the shopper whose cart this instance holds.
	SessionUserID string `toml:"session_user_id"`
	CartKey       string `toml:"cart_key"`
	WishlistKey   string `toml:"wishlist_key"`

	Storage StorageConfig `toml:"storage"`
	Channel ChannelConfig `toml:"channel"`
	Breaker BreakerConfig `toml:"breaker"`

	// CheckoutTopic, when set, clears the cart after a completed checkout.
	CheckoutTopic string `toml:"checkout_topic"`
}

type StorageConfig struct {
	// Backend is memory, redis, mongo, sql or layered (redis over mongo or sql).
	Backend      string        `toml:"backend"`
	Primary      string        `toml:"primary"`
	WriteTimeout time.Duration `toml:"-"`
	// MemoryQuota caps memory storage in bytes; zero is unlimited.
	MemoryQuota int `toml:"memory_quota"`

	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisPrefix   string        `toml:"redis_prefix"`
	RedisTTL      time.Duration `toml:"-"`
	// CacheTTL bounds how long the redis layer of layered storage keeps an entry.
	CacheTTL      time.Duration `toml:"-"`

	MongoURI    string        `toml:"mongo_uri"`
	MongoDBName string        `toml:"mongo_db_name"`
	MongoExpiry time.Duration `toml:"-"`

	SQLDriver string `toml:"sql_driver"`
	SQLDSN    string `toml:"sql_dsn"`
}

type ChannelConfig struct {
	// Backend is local, redis or kafka. local only syncs stores inside this process.
	Backend      string   `toml:"backend"`
	RedisChannel string   `toml:"redis_channel"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `toml:"consecutive_failures"`
	Timeout             time.Duration `toml:"-"`
}

func Default() Config {
	return Config{
		HTTPPort:        "8080",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		SessionUserID:   "1",
		CartKey:         "cart",
		WishlistKey:     "wishlist",
		Storage: StorageConfig{
			Backend:      "memory",
			Primary:      "mongo",
			WriteTimeout: 2 * time.Second,
			MemoryQuota:  5 << 20, // 5MB
			RedisAddr:    "localhost:6379",
			RedisPrefix:  "cartsync",
			CacheTTL:     15 * time.Minute,
			MongoURI:     "mongodb://localhost:27017",
			MongoDBName:  "cartdb",
			MongoExpiry:  90 * 24 * time.Hour,
			SQLDriver:    "sqlite",
			SQLDSN:       "file:cartsync.db",
		},
		Channel: ChannelConfig{
			Backend:      "local",
			RedisChannel: "cartsync:events",
			KafkaBrokers: []string{"localhost:9092"},
			KafkaTopic:   "cart-sync-events",
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			Timeout:             30 * time.Second,
		},
	}
}

// Load reads the TOML file at path, if any, over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(bytes, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	// Durations are written as strings ("30s", "2160h") and parsed separately.
	var raw struct {
		RequestTimeout  string `toml:"request_timeout"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
		Storage         struct {
			WriteTimeout string `toml:"write_timeout"`
			RedisTTL     string `toml:"redis_ttl"`
			CacheTTL     string `toml:"cache_ttl"`
			MongoExpiry  string `toml:"mongo_expiry"`
		} `toml:"storage"`
		Breaker struct {
			Timeout string `toml:"timeout"`
		} `toml:"breaker"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"storage.write_timeout", raw.Storage.WriteTimeout, &cfg.Storage.WriteTimeout},
		{"storage.redis_ttl", raw.Storage.RedisTTL, &cfg.Storage.RedisTTL},
		{"storage.cache_ttl", raw.Storage.CacheTTL, &cfg.Storage.CacheTTL},
		{"storage.mongo_expiry", raw.Storage.MongoExpiry, &cfg.Storage.MongoExpiry},
		{"breaker.timeout", raw.Breaker.Timeout, &cfg.Breaker.Timeout},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(f.value))
		if err != nil {
			return fmt.Errorf("parse config %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SessionUserID = getEnv("SESSION_USER_ID", cfg.SessionUserID)
	cfg.CartKey = getEnv("CART_KEY", cfg.CartKey)
	cfg.WishlistKey = getEnv("WISHLIST_KEY", cfg.WishlistKey)
	cfg.CheckoutTopic = getEnv("CHECKOUT_TOPIC", cfg.CheckoutTopic)

	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Primary = getEnv("STORAGE_PRIMARY", cfg.Storage.Primary)
	cfg.Storage.RedisAddr = getEnv("REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisPrefix = getEnv("REDIS_PREFIX", cfg.Storage.RedisPrefix)
	cfg.Storage.MongoURI = getEnv("MONGO_URI", cfg.Storage.MongoURI)
	cfg.Storage.MongoDBName = getEnv("MONGO_DB_NAME", cfg.Storage.MongoDBName)
	cfg.Storage.SQLDriver = getEnv("SQL_DRIVER", cfg.Storage.SQLDriver)
	cfg.Storage.SQLDSN = getEnv("SQL_DSN", cfg.Storage.SQLDSN)

	cfg.Channel.Backend = getEnv("CHANNEL_BACKEND", cfg.Channel.Backend)
	cfg.Channel.RedisChannel = getEnv("REDIS_CHANNEL", cfg.Channel.RedisChannel)
	cfg.Channel.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Channel.KafkaTopic)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Channel.KafkaBrokers = splitList(brokers)
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Storage.WriteTimeout, err = getDuration("STORAGE_WRITE_TIMEOUT", cfg.Storage.WriteTimeout); err != nil {
		return err
	}
	if cfg.Storage.RedisTTL, err = getDuration("REDIS_TTL", cfg.Storage.RedisTTL); err != nil {
		return err
	}
	if cfg.Storage.CacheTTL, err = getDuration("CACHE_TTL", cfg.Storage.CacheTTL); err != nil {
		return err
	}
	if cfg.Breaker.Timeout, err = getDuration("BREAKER_TIMEOUT", cfg.Breaker.Timeout); err != nil {
		return err
	}
	if v := getEnv("MEMORY_QUOTA", ""); v != "" {
		quota, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse MEMORY_QUOTA: %w", err)
		}
		cfg.Storage.MemoryQuota = quota
	}
	if v := getEnv("BREAKER_FAILURES", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("parse BREAKER_FAILURES: %w", err)
		}
		cfg.Breaker.ConsecutiveFailures = uint32(n)
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "redis", "mongo", "sql":
	case "layered":
		if c.Storage.Primary != "mongo" && c.Storage.Primary != "sql" {
			return fmt.Errorf("layered storage needs a mongo or sql primary, got %q", c.Storage.Primary)
		}
		if c.Storage.CacheTTL <= 0 {
			return errors.New("layered storage needs a positive cache_ttl")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Channel.Backend {
	case "local", "redis":
	case "kafka":
		if len(c.Channel.KafkaBrokers) == 0 {
			return errors.New("kafka channel needs at least one broker")
		}
	default:
		return fmt.Errorf("unknown channel backend %q", c.Channel.Backend)
	}

	if c.CartKey == "" || c.WishlistKey == "" {
		return errors.New("cart and wishlist keys must be set")
	}
	if c.CartKey == c.WishlistKey {
		return errors.New("cart and wishlist must use different keys")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
