package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, RateLimitMemory, cfg.RateLimit.Backend)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.Reconcile.MaxEmailCandidates)
	assert.False(t, cfg.Reconcile.StrictWrites)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, "subsync", cfg.Metrics.Namespace)

	assert.Error(t, cfg.RequireStripe())
	assert.Error(t, cfg.RequireAuth())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  request_timeout: 5s
store:
  driver: postgres
  postgres:
    dsn: postgres://localhost/subsync
ratelimit:
  backend: redis
  limit: 3
  window: 30s
  key_prefix: "rl:"
redis:
  addr: redis:6379
  db: 2
reconcile:
  strict_writes: true
`), 0o600))

	t.Setenv("SUBSYNC_STRIPE_API_KEY", "sk_test_env")
	t.Setenv("SUBSYNC_SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/subsync", cfg.Store.Postgres.DSN)
	assert.Equal(t, RateLimitRedis, cfg.RateLimit.Backend)
	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "rl:", cfg.RateLimit.KeyPrefix)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.False(t, cfg.Store.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Store.Cache.RecordTTL)
	assert.True(t, cfg.Reconcile.StrictWrites)
	assert.Equal(t, "sk_test_env", cfg.Stripe.APIKey)
	assert.NoError(t, cfg.RequireStripe())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:     StoreConfig{Driver: StoreMemory},
			RateLimit: RateLimitConfig{Backend: RateLimitNone},
			Log:       LogConfig{Format: "json"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }},
		{"firestore without project", func(c *Config) { c.Store.Driver = StoreFirestore }},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "memcached" }},
		{"zero limit", func(c *Config) { c.RateLimit.Backend = RateLimitMemory }},
		{"negative candidates", func(c *Config) { c.Reconcile.MaxEmailCandidates = -1 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"cache on memory store", func(c *Config) { c.Store.Cache.Enabled = true }},
		{"redis limiter without addr", func(c *Config) {
			c.RateLimit = RateLimitConfig{Backend: RateLimitRedis, Limit: 1, Window: time.Second}
		}},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
