package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/warden/ports"
)

// hitScript increments the bucket, starts its window on the first hit and
// returns {count, remaining window in ms}.
var hitScript = redis.NewScript(`
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

// RedisCounter is a fixed window counter shared between instances.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.RateLimitCounter = (*RedisCounter)(nil)

// NewRedisCounter creates a counter under the given key prefix
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = defaultPrefix + "rate:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Hit counts one request against key in a single round trip
func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	res, err := hitScript.Run(ctx, c.client, []string{c.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, unavailable("count rate limit hit", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, unavailable("count rate limit hit", redis.Nil)
	}
	return res[0], now.Add(time.Duration(res[1]) * time.Millisecond), nil
}
