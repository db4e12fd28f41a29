// Package redisstore implements queue.Broker on Redis using go-redis v9.
//
// Each job is a hash; per-queue sorted sets index pending jobs by run time,
// active jobs by lock expiry and finished jobs by finish time. Claim, the
// lock-guarded transitions, and stall recovery each run as a single Lua
// script, which makes them atomic with respect to each other across any number
// of worker processes.
//
// # Usage
//
//	var cfg redisstore.Config
//	config.MustLoad(&cfg)
//
//	client, err := redisstore.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	broker := redisstore.New(client, redisstore.WithPrefix(cfg.KeyPrefix))
//	manager, err := queue.NewManager(broker)
//
// The same client can back ratelimit.NewRedisStore so that rate limits are
// shared by every worker process.
package redisstore
