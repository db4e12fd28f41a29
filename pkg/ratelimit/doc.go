// Package ratelimit implements a rolling-window limiter that admits at most N events
// in any window of length W.
//
// The limiter is split from its storage. MemoryStore serves a single process;
// RedisStore keeps the window in a sorted set so every process sharing the Redis
// instance observes the same ceiling. Admission is atomic in both stores.
//
// An admitted event carries a reservation that can be released when the admitted
// work turns out not to exist, so polling an empty queue does not consume capacity.
//
//	limiter, err := ratelimit.NewSlidingWindow(ratelimit.NewMemoryStore(), 100, 5*time.Second)
//	if err != nil {
//		return err
//	}
//
//	res, err := limiter.Allow(ctx, "queue:email")
//	if err != nil {
//		return err
//	}
//	if !res.Allowed {
//		time.Sleep(res.RetryAfter)
//	}
package ratelimit
