package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amoylab/oauthd/internal/common/redisx"
)

// hitScript returns {allowed, count, reset_ms}
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local v = redis.call('HMGET', KEYS[1], 'count', 'reset')
local count = tonumber(v[1])
local reset = tonumber(v[2])
if not count or not reset or now >= reset then
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, reset}
end
if count >= max then
  return {0, count, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// RedisStore shares counters between instances
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a counter store under prefix
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, p Policy) (Entry, bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{redisx.Key(s.prefix, key)},
		now.UnixMilli(), p.Window.Milliseconds(), p.MaxRequests).Int64Slice()
	if err != nil {
		return Entry{}, false, err
	}
	if len(res) != 3 {
		return Entry{}, false, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	return Entry{Count: int(res[1]), ResetAt: time.UnixMilli(res[2])}, res[0] == 1, nil
}

// Close releases the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
