// Package sqlite provides the embedded file-based storage backend for the
// quota engine.
//
// It wraps the mattn/go-sqlite3 driver with connection validation, WAL
// journaling, and embedded schema migrations using goose. The backend suits
// single-node deployments and local development: the quota table and the
// token usage ledger live in one database file, and the driver's busy
// timeout arbitrates concurrent writers within the node.
//
// # Configuration
//
// All configuration is handled through the Config struct with environment
// variable mapping:
//
//	type Config struct {
//		Path         string        `env:"SQLITE_PATH,required"`
//		BusyTimeout  time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
//		QueryTimeout time.Duration `env:"SQLITE_QUERY_TIMEOUT" envDefault:"3s"`
//	}
//
// # Usage
//
//	db, err := sqlite.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	store := sqlite.NewStore(db, cfg.QueryTimeout)
//	limiters, err := quota.NewLimiters(quotaCfg, quota.StaticStore(store))
//
// Connections run in autocommit mode; every balance mutation is a single
// conditional UPDATE, so no transaction spans multiple statements.
package sqlite
