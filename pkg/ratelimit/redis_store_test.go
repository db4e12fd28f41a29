package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/backq/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *ratelimit.RedisStore {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	return ratelimit.NewRedisStore(client, ratelimit.WithKeyPrefix("test:ratelimit:"+uuid.NewString()+":"))
}

func TestRedisStore_RecordIfAllowed(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	allowed, count, oldest, err := store.RecordIfAllowed(ctx, "k", "a", base, time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), count)
	assert.True(t, oldest.Equal(base))

	allowed, _, _, err = store.RecordIfAllowed(ctx, "k", "b", base.Add(100*time.Millisecond), time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, count, _, err = store.RecordIfAllowed(ctx, "k", "c", base.Add(200*time.Millisecond), time.Second, 2)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Release(ctx, "k", "b"))

	allowed, _, _, err = store.RecordIfAllowed(ctx, "k", "c", base.Add(300*time.Millisecond), time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)

	count, err = store.Count(ctx, "k", base.Add(1100*time.Millisecond), time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Delete(ctx, "k"))
}
