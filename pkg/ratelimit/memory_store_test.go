package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrymomot/backq/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordIfAllowed(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore(ratelimit.WithCleanupInterval(time.Hour))
	defer store.Close()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	allowed, count, oldest, err := store.RecordIfAllowed(ctx, "k", "a", base, time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, base, oldest)

	allowed, count, _, err = store.RecordIfAllowed(ctx, "k", "b", base.Add(500*time.Millisecond), time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(2), count)

	allowed, count, oldest, err = store.RecordIfAllowed(ctx, "k", "c", base.Add(900*time.Millisecond), time.Second, 2)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, base, oldest)

	// At exactly base+1s the first event leaves the window.
	allowed, count, oldest, err = store.RecordIfAllowed(ctx, "k", "d", base.Add(time.Second), time.Second, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, base.Add(500*time.Millisecond), oldest)
}

func TestMemoryStore_CountReleaseDelete(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, m := range []string{"a", "b", "c"} {
		_, _, _, err := store.RecordIfAllowed(ctx, "k", m, now, time.Minute, 10)
		require.NoError(t, err)
	}

	count, err := store.Count(ctx, "k", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.Release(ctx, "k", "b"))
	require.NoError(t, store.Release(ctx, "k", "missing"))

	count, err = store.Count(ctx, "k", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.Count(ctx, "k", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Delete(ctx, "k"))
	count, err = store.Count(ctx, "k", now, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
