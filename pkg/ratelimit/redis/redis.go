// Package redis provides a sliding-window ratelimit.Limiter backed by Redis,
// so that every instance of the service shares one budget per caller.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/ratelimit"
)

const defaultKeyPrefix = "subsync:ratelimit:"

// Each key is a sorted set of request ids scored by arrival time in
// milliseconds. Returns {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		local retry = window
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if oldest and #oldest >= 2 then
			local oldestTime = tonumber(oldest[2])
			if oldestTime then
				retry = oldestTime + window - now
			end
		end
		if retry < 1 then
			retry = 1
		end
		return {0, 0, retry}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
`)

// Config holds Redis limiter configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:ratelimit:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{KeyPrefix: defaultKeyPrefix}
}

// Limiter implements ratelimit.Limiter using Redis
type Limiter struct {
	client redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a new Redis limiter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &Limiter{
		client: client,
		config: config,
		now:    time.Now,
	}, nil
}

// Allow implements ratelimit.Limiter
func (l *Limiter) Allow(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	if err := policy.Validate(); err != nil {
		return ratelimit.Decision{}, err
	}

	result, err := slidingWindow.Run(
		ctx,
		l.client,
		[]string{l.config.KeyPrefix + key},
		l.now().UnixMilli(),
		policy.Limit,
		policy.Window.Milliseconds(),
		uuid.NewString(),
	).Result()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	return parseResult(result)
}

func parseResult(result interface{}) (ratelimit.Decision, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected result from rate limit script: %v", result)
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return ratelimit.Decision{}, fmt.Errorf("invalid rate limit value at %d: %T", i, v)
		}
		ints[i] = n
	}

	return ratelimit.Decision{
		Allowed:    ints[0] == 1,
		Remaining:  int(ints[1]),
		RetryAfter: time.Duration(ints[2]) * time.Millisecond,
	}, nil
}

// Ping checks the Redis connection
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (l *Limiter) Close() error {
	return l.client.Close()
}
