package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the sorted set to the window, then admits the request
// when the remaining count is below the limit. Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisStore shares the timestamp log across instances through a sorted set per key.
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore wraps a go-redis client (or any Scripter such as a cluster client).
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	if !policy.Valid() {
		return Decision{}, ErrInvalidPolicy
	}
	nowMs := now.UnixMilli()
	member := ulid.Make().String()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		nowMs, policy.Window.Milliseconds(), policy.Limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	decision := Decision{
		Allowed: res[0] == 1,
		Limit:   policy.Limit,
		ResetAt: time.UnixMilli(res[2]).Add(policy.Window),
	}
	if decision.Allowed {
		decision.Remaining = policy.Limit - int(res[1])
	} else {
		decision.RetryAfter = decision.ResetAt.Sub(now)
	}
	return decision, nil
}
