// Package pg provides the networked PostgreSQL storage backend for the
// quota engine.
//
// It wraps the pgx driver with application-level retry logic, connection
// pool tuning, and embedded schema migrations using goose. This is the
// backend for multi-instance deployments: every service process talks to the
// same database, and all balance mutations are single conditional statements
// so concurrent consumers from different processes serialize at the row.
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		ConnectionString  string        `env:"PG_CONN_URL,required"`
//		MaxConns          int32         `env:"PG_MAX_CONNS" envDefault:"10"`
//		MinConns          int32         `env:"PG_MIN_CONNS" envDefault:"2"`
//		HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
//		MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
//		MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
//		RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
//		QueryTimeout      time.Duration `env:"PG_QUERY_TIMEOUT" envDefault:"3s"`
//	}
//
// Connection establishment retries with a bounded attempt budget to ride out
// transient network issues when multiple services restart simultaneously.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	store := pg.NewStore(pool, cfg.QueryTimeout)
//	limiters, err := quota.NewLimiters(quotaCfg, quota.StaticStore(store),
//		quota.WithUnavailableClassifier(pg.IsUnavailable))
//
// The classifier keeps SQL logic errors out of the backend-unavailable
// path: only connectivity-class failures make the limiters drop and reopen
// their handles.
//
// The pool hands a connection per statement and every statement autocommits;
// no transaction spans multiple statements, matching the engine's atomic
// single-statement discipline.
package pg
