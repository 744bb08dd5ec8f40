// Package config loads subsyncd configuration from an optional YAML file
// and SUBSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SUBSYNC"

// Store drivers
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// Rate limit backends
const (
	RateLimitNone   = "none"
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Store          StoreConfig          `mapstructure:"store"`
	RateLimit      RateLimitConfig      `mapstructure:"ratelimit"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Reconcile      ReconcileConfig      `mapstructure:"reconcile"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type StripeConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type StoreConfig struct {
	Driver    string          `mapstructure:"driver"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// CacheConfig puts a Redis read-through cache in front of the store.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	RecordTTL time.Duration `mapstructure:"record_ttl"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type FirestoreConfig struct {
	ProjectID               string `mapstructure:"project_id"`
	SubscriptionsCollection string `mapstructure:"subscriptions_collection"`
	ProfilesCollection      string `mapstructure:"profiles_collection"`
}

type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// RedisConfig is shared by the redis rate limiter and the store cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type ReconcileConfig struct {
	MaxEmailCandidates int  `mapstructure:"max_email_candidates"`
	StrictWrites       bool `mapstructure:"strict_writes"`
	Coalesce           bool `mapstructure:"coalesce"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration. path may be empty, in which case ./configs and
// the working directory are searched for config.yaml; a missing file is not
// an error. Environment variables override file values, e.g.
// SUBSYNC_STRIPE_API_KEY for stripe.api_key.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.http_timeout", 10*time.Second)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 2)
	v.SetDefault("store.firestore.project_id", "")
	v.SetDefault("store.firestore.subscriptions_collection", "billing_subscriptions")
	v.SetDefault("store.firestore.profiles_collection", "profiles")

	v.SetDefault("ratelimit.backend", RateLimitMemory)
	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.key_prefix", "subsync:ratelimit:")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.cache.enabled", false)
	v.SetDefault("store.cache.key_prefix", "subsync:")
	v.SetDefault("store.cache.record_ttl", 10*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.leeway", 30*time.Second)

	v.SetDefault("reconcile.max_email_candidates", 5)
	v.SetDefault("reconcile.strict_writes", false)
	v.SetDefault("reconcile.coalesce", false)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "subsync")
}

// Validate checks values that do not depend on which command runs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case StoreFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("store.firestore.project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.RateLimit.Backend {
	case RateLimitNone:
	case RateLimitMemory, RateLimitRedis:
		if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("ratelimit.limit and ratelimit.window must be positive")
		}
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}

	if c.Store.Cache.Enabled && c.Store.Driver == StoreMemory {
		return fmt.Errorf("store.cache requires a durable store.driver")
	}
	if (c.Store.Cache.Enabled || c.RateLimit.Backend == RateLimitRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Reconcile.MaxEmailCandidates < 0 {
		return fmt.Errorf("reconcile.max_email_candidates must not be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

// RequireStripe checks the settings needed to talk to Stripe.
func (c *Config) RequireStripe() error {
	if strings.TrimSpace(c.Stripe.APIKey) == "" {
		return fmt.Errorf("stripe.api_key is required")
	}
	return nil
}

// RequireAuth checks the settings needed to authenticate API callers.
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}
