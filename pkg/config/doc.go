// Package config parses environment variables into tagged structs.
//
// Values come from the process environment, optionally seeded from .env files
// through github.com/joho/godotenv, and are decoded by
// github.com/caarlos0/env/v11. Every package owns its Config type
// (queue.Config, redisstore.Config, email.Config, ...) and the worker loads
// them at startup:
//
//	var cfg redisstore.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Load caches the first successful parse per type. Parse skips the cache and
// takes a variable prefix for types configured more than once:
//
//	var accounts mongostore.Config
//	err := config.Parse(&accounts, "ACCOUNTS_") // ACCOUNTS_MONGODB_URL, ...
//
// ResetCache and ForceReloadConfig exist for tests that change the
// environment. Failures wrap ErrParsingConfig, ErrLoadingEnvFile or
// ErrNilPointer.
package config
