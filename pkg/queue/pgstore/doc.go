// Package pgstore implements queue.Broker on PostgreSQL using pgx v5.
//
// Jobs live in a single backq_jobs table created by the embedded goose
// migrations (see Migrate). Claim picks the oldest ready row with
// FOR UPDATE SKIP LOCKED so competing workers never wait on each other, and
// every owned transition filters on the claim's lock token.
//
// # Usage
//
//	var cfg pgstore.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//		log.Fatal(err)
//	}
//	broker := pgstore.New(pool)
//
// # Errors
//
//   - ErrFailedToParseDBConfig: invalid connection string.
//   - ErrFailedToOpenDBConnection: pool could not be opened after all retries.
//   - ErrFailedToApplyMigrations: goose failed to bring the schema up to date.
//   - ErrHealthcheckFailed: returned by the Healthcheck probe.
package pgstore
