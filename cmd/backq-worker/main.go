// Command backq-worker runs the background job workers.
//
// It connects to the broker selected by BROKER_DRIVER, opens the account,
// cleanup, email and notifications queues, and for each queue runs a worker
// pool and a stalled-job monitor. An HTTP server exposes Prometheus metrics,
// liveness and readiness probes, and a small admin API for inspecting,
// removing and retrying jobs.
//
// Failing to reach the broker at startup is fatal: the process exits non-zero
// before accepting any work.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/backq/pkg/config"
	"github.com/dmitrymomot/backq/pkg/email"
	"github.com/dmitrymomot/backq/pkg/file"
	"github.com/dmitrymomot/backq/pkg/httpserver"
	"github.com/dmitrymomot/backq/pkg/jobs"
	"github.com/dmitrymomot/backq/pkg/logger"
	"github.com/dmitrymomot/backq/pkg/queue"
	"github.com/dmitrymomot/backq/pkg/queue/mongostore"
	"github.com/dmitrymomot/backq/pkg/queuemetrics"
)

type appConfig struct {
	BrokerDriver       string        `env:"BROKER_DRIVER" envDefault:"redis"`
	AccountsCollection string        `env:"ACCOUNTS_COLLECTION" envDefault:"users"`
	LocalFilesRoot     string        `env:"LOCAL_FILES_ROOT" envDefault:"./tmp/uploads"`
	HealthTimeout      time.Duration `env:"HEALTH_TIMEOUT" envDefault:"3s"`
	MetricsInterval    time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`
}

func main() {
	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.New(logger.WithConfig(logCfg), logger.WithJobContext())
	logger.SetAsDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error("worker exited with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, log *slog.Logger) error {
	var (
		app      appConfig
		queueCfg queue.Config
		httpCfg  httpserver.Config
		mailCfg  email.Config
		s3Cfg    file.S3Config
		accCfg   mongostore.Config
	)
	if err := errors.Join(
		config.Load(&app),
		config.Load(&queueCfg),
		config.Load(&httpCfg),
		config.Load(&mailCfg),
		config.Load(&s3Cfg),
		config.Parse(&accCfg, "ACCOUNTS_"),
	); err != nil {
		return err
	}

	log.Info("starting backq-worker", slog.String("driver", app.BrokerDriver))

	be, err := connectBroker(ctx, app.BrokerDriver, log)
	if err != nil {
		return errors.Join(queue.ErrBrokerUnavailable, err)
	}
	defer be.close()
	log.Info("broker connected")

	accountsClient, err := mongostore.Connect(ctx, accCfg)
	if err != nil {
		return err
	}
	defer func() { _ = accountsClient.Disconnect(context.Background()) }()
	accounts := jobs.NewMongoAccounts(accountsClient.Database(accCfg.Database).Collection(app.AccountsCollection))

	managerOpts := []queue.ManagerOption{queue.WithLogger(log)}
	if be.limiter != nil {
		managerOpts = append(managerOpts, queue.WithLimiterStore(be.limiter))
	}
	manager, err := queue.NewManager(be.broker, managerOpts...)
	if err != nil {
		return err
	}
	defer manager.Close()

	queues := make(map[string]*queue.Queue, len(jobs.QueueNames))
	for _, name := range jobs.QueueNames {
		q, err := manager.Queue(ctx, name, queue.WithQueueOptions(queueCfg.QueueOptions()))
		if err != nil {
			return err
		}
		queues[name] = q
	}

	sender, err := newSender(mailCfg, log)
	if err != nil {
		return err
	}
	images, err := newImageRemover(ctx, s3Cfg, log)
	if err != nil {
		return err
	}
	files, err := file.NewLocalRemover(app.LocalFilesRoot)
	if err != nil {
		return err
	}

	svc, err := jobs.NewService(jobs.Deps{
		Accounts: accounts,
		Sender:   sender,
		Images:   images,
		Files:    files,
		Queues: jobs.Queues{
			Email:         queues[jobs.QueueEmail],
			Account:       queues[jobs.QueueAccount],
			Cleanup:       queues[jobs.QueueCleanup],
			Notifications: queues[jobs.QueueNotifications],
		},
	}, jobs.WithLogger(log))
	if err != nil {
		return err
	}

	collector := queuemetrics.New(
		queuemetrics.WithInterval(app.MetricsInterval),
		queuemetrics.WithLogger(log))
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	var runners []func(context.Context) func() error
	for _, name := range jobs.QueueNames {
		q := queues[name]

		reg := queue.NewRegistry()
		if err := svc.Register(name, reg); err != nil {
			return err
		}
		worker, err := queue.NewWorker(q, reg,
			append(queueCfg.WorkerOptions(), queue.WithWorkerLogger(log))...)
		if err != nil {
			return err
		}
		monitor, err := queue.NewStalledMonitor(q, queue.WithMonitorLogger(log))
		if err != nil {
			return err
		}
		runners = append(runners, worker.Run, monitor.Run)

		id, host, pid := worker.WorkerInfo()
		log.Debug("worker configured",
			logger.Queue(name),
			logger.WorkerID(id),
			slog.String("host", host),
			slog.Int("pid", pid))
	}

	g, gctx := errgroup.WithContext(ctx)

	events := manager.Events().Subscribe(gctx, 256)
	g.Go(func() error {
		logger.LogEvents(gctx, events, log)
		return nil
	})
	g.Go(collector.Run(gctx, manager))
	for _, start := range runners {
		g.Go(start(gctx))
	}

	srv := httpserver.New(httpCfg, httpserver.WithLogger(log))
	router := newRouter(manager, nil, app.HealthTimeout, log,
		httpserver.Check{Name: app.BrokerDriver, Check: be.check},
		httpserver.Check{Name: "accounts", Check: mongostore.Healthcheck(accountsClient)})
	g.Go(func() error {
		return srv.Run(gctx, router)
	})

	return waitWithTimeout(ctx, g, queueCfg.ShutdownTimeout, log)
}

// waitWithTimeout waits for the group. Once ctx is cancelled the group gets
// timeout to drain running jobs before the process gives up on them.
func waitWithTimeout(ctx context.Context, g *errgroup.Group, timeout time.Duration, log *slog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", slog.Duration("timeout", timeout))
	if timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errShutdownTimeout
	}
}

var errShutdownTimeout = errors.New("shutdown timed out with jobs still running")

func newSender(cfg email.Config, log *slog.Logger) (email.Sender, error) {
	if cfg.PostmarkEnabled() {
		client, err := email.NewPostmarkClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	log.Warn("postmark is not configured, writing emails to disk",
		slog.String("dir", cfg.DevOutputDir))
	return email.NewDevSender(cfg.DevOutputDir, log), nil
}

func newImageRemover(ctx context.Context, cfg file.S3Config, log *slog.Logger) (file.Remover, error) {
	if cfg.Enabled() {
		remover, err := file.NewS3Remover(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return remover, nil
	}
	log.Warn("S3 is not configured, uploaded images will not be removed")
	return file.RemoverFunc(func(ctx context.Context, publicID string) error {
		log.InfoContext(ctx, "skipping image removal", slog.String("public_id", publicID))
		return nil
	}), nil
}
