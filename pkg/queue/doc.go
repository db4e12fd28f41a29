// Package queue provides a broker-agnostic background job queue with delayed execution,
// retries with capped exponential backoff, stalled-job recovery and a per-queue
// throughput ceiling.
//
// The package is organised around a handful of components:
//
//   - Manager       : owns one Queue per name and the shared Broker connection
//   - Queue         : producer-facing handle: Submit, Get, Remove, Retry, Counts
//   - Registry/Kind : typed dispatch table from job type to Handler
//   - Worker        : claims ready jobs and runs their handlers
//   - StalledMonitor: returns jobs abandoned by dead or hung workers to the queue
//   - Events        : non-blocking stream of job state transitions
//
// Persistence is hidden behind the Broker interface. MemoryBroker is bundled for tests
// and local development; the redisstore, mongostore and pgstore subpackages provide
// durable implementations. The broker is the only synchronization point between
// processes: claims are atomic compare-and-swap operations, so two workers never run
// the same job at the same time.
//
// # Delivery guarantees
//
// Jobs are delivered at least once and never before their RunAt time. A job may run
// more than once (a worker can die after the side effect but before acknowledging it),
// so handlers must be idempotent.
//
// # Usage
//
//	type UnbanPayload struct {
//		UserID string `json:"user_id"`
//	}
//
//	var Unban = queue.NewKind[UnbanPayload]("UnBanAccount")
//
//	func setup(ctx context.Context, broker queue.Broker) error {
//		m, err := queue.NewManager(broker)
//		if err != nil {
//			return err
//		}
//
//		q, err := m.Queue(ctx, "account", queue.WithDefaultAttempts(5))
//		if err != nil {
//			return err // broker unreachable: do not start
//		}
//
//		reg := queue.NewRegistry()
//		if err := reg.Register(Unban.Handler(func(ctx context.Context, p UnbanPayload) error {
//			return accounts.Unban(ctx, p.UserID)
//		})); err != nil {
//			return err
//		}
//
//		w, err := queue.NewWorker(q, reg, queue.WithConcurrency(4))
//		if err != nil {
//			return err
//		}
//		go w.Run(ctx)()
//
//		_, err = Unban.Submit(ctx, q, UnbanPayload{UserID: "42"}, queue.WithDelay(72*time.Hour))
//		return err
//	}
//
// # Error Handling
//
// Package-level sentinel errors (ErrBrokerUnavailable, ErrSubmit, ErrHandlerNotFound,
// ErrLockLost, ...) can be checked with errors.Is.
package queue
