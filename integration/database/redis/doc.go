// Package redis provides a Redis-backed storage backend for the quota
// engine.
//
// Balances live in one hash per subject; the conditional decrement, revoke
// and clamped increment run as Lua scripts so each mutation is a single
// atomic server-side operation, giving the same no-overdraw guarantee as the
// SQL backends. The token usage ledger is a Redis stream, which is
// append-only by construction.
//
// This backend suits deployments that already run Redis and want quota
// state with lower latency than a relational database. It is schemaless:
// EnsureSchema only preloads the Lua scripts.
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		QueryTimeout   time.Duration `env:"REDIS_QUERY_TIMEOUT" envDefault:"3s"`
//	}
//
// Both redis:// and rediss:// (TLS) URL schemes are supported.
//
// # Usage
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	store := redis.NewStore(client, cfg.QueryTimeout)
//	limiters, err := quota.NewLimiters(quotaCfg, quota.StaticStore(store))
package redis
