package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/backq/pkg/config"
	"github.com/dmitrymomot/backq/pkg/queue"
	"github.com/dmitrymomot/backq/pkg/queue/mongostore"
	"github.com/dmitrymomot/backq/pkg/queue/pgstore"
	"github.com/dmitrymomot/backq/pkg/queue/redisstore"
	"github.com/dmitrymomot/backq/pkg/ratelimit"
)

const (
	driverRedis    = "redis"
	driverMongo    = "mongo"
	driverPostgres = "postgres"
)

var errUnknownDriver = errors.New("unknown broker driver")

// backend is a connected broker with its readiness check and teardown.
type backend struct {
	broker  queue.Broker
	limiter ratelimit.Store // nil keeps the manager's in-process store
	check   func(context.Context) error
	close   func()
}

// connectBroker dials the broker selected by driver. Only the chosen driver's
// environment is parsed, so unrelated required variables may stay unset.
func connectBroker(ctx context.Context, driver string, log *slog.Logger) (*backend, error) {
	switch driver {
	case driverRedis:
		var cfg redisstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redisstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			broker:  redisstore.New(client, redisstore.WithPrefix(cfg.KeyPrefix)),
			limiter: ratelimit.NewRedisStore(client, ratelimit.WithKeyPrefix(cfg.KeyPrefix+":ratelimit")),
			check:   redisstore.Healthcheck(client),
			close:   func() { _ = client.Close() },
		}, nil

	case driverMongo:
		var cfg mongostore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongostore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := mongostore.New(ctx, client.Database(cfg.Database).Collection(cfg.Collection))
		if err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		return &backend{
			broker: store,
			check:  mongostore.Healthcheck(client),
			close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	case driverPostgres:
		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{
			broker: pgstore.New(pool),
			check:  pgstore.Healthcheck(pool),
			close:  pool.Close,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownDriver, driver)
}
