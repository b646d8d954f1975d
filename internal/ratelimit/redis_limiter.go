package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript atomically counts a request within the current window
// and returns the count plus the window TTL in milliseconds.
const fixedWindowScript = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window_ms)
end
local ttl = redis.call('PTTL', key)
return {count, ttl}
`

// RedisLimiter is a fixed-window limiter sharing one request budget across
// replicas. Used when several bot instances sync against the same wiki and
// must stay under its global rate limit together.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	key    string
	limit  int
	window time.Duration
}

// NewRedisLimiter connects to Redis and validates the connection eagerly.
func NewRedisLimiter(addr, key string, reqsPerSec float64) (*RedisLimiter, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if reqsPerSec <= 0 {
		return nil, fmt.Errorf("requests per second must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	limit := int(reqsPerSec)
	if limit < 1 {
		limit = 1
	}

	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		key:    "lorehub:ratelimit:" + key,
		limit:  limit,
		window: time.Second,
	}, nil
}

// Wait blocks until the shared window has capacity or the context ends.
func (rl *RedisLimiter) Wait(ctx context.Context) error {
	for {
		allowed, retryIn, err := rl.check(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if retryIn <= 0 {
			retryIn = 50 * time.Millisecond
		}
		select {
		case <-time.After(retryIn):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (rl *RedisLimiter) check(ctx context.Context) (allowed bool, retryIn time.Duration, err error) {
	res, err := rl.script.Run(ctx, rl.client, []string{rl.key}, rl.window.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	count, _ := res[0].(int64)
	ttlMillis, _ := res[1].(int64)

	if count <= int64(rl.limit) {
		return true, 0, nil
	}
	return false, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Close releases the Redis connection.
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}
