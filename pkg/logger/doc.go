// Package logger builds the *slog.Logger shared by the worker and its jobs.
//
// New returns a JSON or text logger configured by options. WithConfig applies
// an environment preset from APP_ENV (development logs text at debug level,
// staging and production log JSON at info) and then the LOG_LEVEL and
// LOG_FORMAT overrides. Every record carries the service name and environment.
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.New(logger.WithConfig(cfg), logger.WithJobContext())
//	logger.SetAsDefault(log)
//
// WithJobContext adds a "job" group (id, queue, type, attempt) to any record
// logged with a handler's context, so handlers get job identity for free:
//
//	func unban(ctx context.Context, p UnBanAccountPayload) error {
//		slog.InfoContext(ctx, "lifting ban", logger.UserID(p.User.ID))
//		...
//	}
//
// Other context values can be lifted into records with WithContextExtractors.
//
// The attribute helpers (JobID, Queue, JobType, Attempt, Outcome, Error, ...)
// keep key names consistent across packages. Error returns an empty attribute
// for a nil error, so no nil check is needed at the call site.
//
// LogEvents turns a queue.Events subscription into one log line per job
// transition.
package logger
