package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript trims the window, then records the member only if there is room.
// Scores are microseconds since the epoch.
//
// KEYS[1] window key
// ARGV[1] now, ARGV[2] window, ARGV[3] limit, ARGV[4] member
var recordScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, math.floor(window / 1000) + 1000)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = '0'
if oldest[2] then
	oldestScore = oldest[2]
end
return {allowed, count, oldestScore}
`)

// RedisStore keeps event timestamps in a Redis sorted set per key, so every worker
// process sharing the Redis instance shares the same window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the prefix prepended to every key.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "ratelimit:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordIfAllowed implements Store.
func (s *RedisStore) RecordIfAllowed(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (bool, int64, time.Time, error) {
	res, err := recordScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMicro(), window.Microseconds(), limit, member,
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)

	var oldest time.Time
	if raw, ok := res[2].(string); ok {
		if micros, err := strconv.ParseFloat(raw, 64); err == nil && micros > 0 {
			oldest = time.UnixMicro(int64(micros))
		}
	}
	return allowed == 1, count, oldest, nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, member string) error {
	return s.client.ZRem(ctx, s.prefix+key, member).Err()
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	minScore := "(" + strconv.FormatInt(now.Add(-window).UnixMicro(), 10)
	maxScore := strconv.FormatInt(now.UnixMicro(), 10)
	return s.client.ZCount(ctx, s.prefix+key, minScore, maxScore).Result()
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
