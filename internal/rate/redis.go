package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordAttemptLua increments the counter and starts the window on the
// first hit.
// KEYS[1] = bucket key
// ARGV[1] = window in milliseconds
//
// Returns {count, pttl}.
var recordAttemptLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter keeps buckets in Redis so that several processes share one
// budget per key.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// NewRedis creates a Redis-backed limiter. Keys are stored as prefix:key.
func NewRedis(redisClient redis.UniversalClient, prefix string, cfg Config) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}, nil
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}

// CheckAndRecord implements Limiter.
func (l *RedisLimiter) CheckAndRecord(ctx context.Context, key string) (Decision, error) {
	res, err := recordAttemptLua.Run(ctx, l.redis,
		[]string{l.key(key)},
		l.config.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrRedisUnavailable)
	}

	return decide(res[0], time.Duration(res[1])*time.Millisecond, l.config), nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
