// Package httpserver serves the worker's operational HTTP surface: Prometheus
// metrics, liveness and readiness probes and the job admin API.
//
// Server wraps a single http.Server built from Config. Run blocks until the
// context is cancelled, then drains in-flight requests within
// Config.ShutdownTimeout. Signal handling stays with the caller:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	r := httpserver.NewRouter(log)
//	r.Get("/healthz", httpserver.HealthCheckHandler(log, 0))
//	r.Get("/readyz", httpserver.HealthCheckHandler(log, 2*time.Second,
//		httpserver.Check{Name: "broker", Check: manager.Ping}))
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("http server", logger.Error(err))
//	}
//
// NewRouter returns a chi router with request ids, panic recovery and
// debug-level access logs. WriteJSON and WriteError keep response bodies
// uniform.
//
// Listen failures are wrapped with ErrStart and shutdown failures with
// ErrShutdown.
package httpserver
