// Package redis provides a traced Redis client and a Redis-backed
// [auth.KeySetStore] so that replicas of a guarded service share one fetched
// signing key set instead of each hitting the identity provider.
//
// # Configuration
//
// [Config] carries env tags for the config loader:
//
//	cfg := redis.DefaultConfig()
//	if err := config.New().Load(cfg); err != nil { ... }
//	client, err := redis.NewClient(ctx, *cfg)
//	store := redis.NewKeySetStore(client, cfg.KeyPrefix, cfg.KeySetTTL)
//
// For tests, use [NewFromClient] to inject a mock [Cmdable].
//
// # Tracing
//
// Get and Set create client spans named redis.Get and redis.Set with the
// db.system and db.redis.database_index attributes. Keys are truncated in
// span attributes.
package redis

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const maxKeyAttributeLen = 100

const (
	// DefaultHost is used when neither URI nor Host is configured.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultPoolSize is the maximum number of pooled connections.
	DefaultPoolSize = 10

	// DefaultMaxRetries is the number of command retries go-redis performs.
	DefaultMaxRetries = 3

	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultHealthTimeout bounds [Client.Health] when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultKeyPrefix namespaces key-set entries.
	DefaultKeyPrefix = "entra-guard:jwks:"

	// DefaultKeySetTTL is how long a stored key set lives in Redis.
	DefaultKeySetTTL = time.Hour
)

// Secret is a string that redacts itself when printed or serialized. Use
// [Secret.Value] to read it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection and key-set store settings. When URI is
// set it takes precedence over Host, Port, DB, Password and TLSEnabled.
type Config struct {
	// URI is a redis:// or rediss:// connection string.
	URI string `json:"uri,omitempty" yaml:"uri" env:"REDIS_URI"`

	Host     string `json:"host,omitempty" yaml:"host" env:"REDIS_HOST"`
	Port     int    `json:"port,omitempty" yaml:"port" env:"REDIS_PORT"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
	Password Secret `json:"-" yaml:"-" env:"REDIS_PASSWORD"`

	PoolSize     int           `json:"pool_size,omitempty" yaml:"pool_size" env:"REDIS_POOL_SIZE"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries" env:"REDIS_MAX_RETRIES"`
	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
	TLSEnabled   bool          `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`

	// KeyPrefix namespaces the key-set entries written by [KeySetStore].
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`

	// KeySetTTL is the Redis expiration of stored key sets. It should be at
	// least the validator's cache TTL.
	KeySetTTL time.Duration `json:"key_set_ttl,omitempty" yaml:"key_set_ttl" env:"REDIS_KEY_SET_TTL"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		PoolSize:     DefaultPoolSize,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		KeyPrefix:    DefaultKeyPrefix,
		KeySetTTL:    DefaultKeySetTTL,
	}
}

// Enabled reports whether a connection URI was configured. Services treat
// the shared store as optional and skip it when this is false.
func (c *Config) Enabled() bool {
	return strings.TrimSpace(c.URI) != ""
}

// Validate applies defaults for zero-valued fields and returns the first
// invalid setting.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	if c.KeySetTTL < 0 {
		return fmt.Errorf("redis: config key_set_ttl must not be negative, got %v", c.KeySetTTL)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.KeySetTTL == 0 {
		c.KeySetTTL = DefaultKeySetTTL
	}
}

// truncateKey shortens a key for span attributes without splitting runes.
func truncateKey(s string) string {
	runes := []rune(s)
	if len(runes) <= maxKeyAttributeLen {
		return s
	}
	return string(runes[:maxKeyAttributeLen]) + "..."
}
