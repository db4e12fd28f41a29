package redisstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/backq/pkg/queue"
	"github.com/dmitrymomot/backq/pkg/queue/brokertest"
	"github.com/dmitrymomot/backq/pkg/queue/redisstore"
)

func connect(t *testing.T) redisstore.Config {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	return redisstore.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	}
}

func TestStore_Conformance(t *testing.T) {
	cfg := connect(t)
	client, err := redisstore.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "backq-test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})

	brokertest.Run(t, func(t *testing.T, clock queue.Clock) queue.Broker {
		return redisstore.New(client, redisstore.WithPrefix(prefix), redisstore.WithClock(clock))
	})
}

func TestHealthcheck(t *testing.T) {
	cfg := connect(t)
	client, err := redisstore.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, redisstore.Healthcheck(client)(context.Background()))
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := redisstore.Connect(context.Background(), redisstore.Config{ConnectionURL: "://nope"})
	require.ErrorIs(t, err, redisstore.ErrFailedToParseRedisConnString)
}
