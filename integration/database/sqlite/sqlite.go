package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver registration
)

// Config holds the embedded backend settings.
// Designed for environment-based configuration using popular env parsing libraries.
type Config struct {
	// Path is the database file location. ":memory:" opens a private
	// in-memory database, useful in tests.
	Path string `env:"SQLITE_PATH,required"`

	// BusyTimeout is how long a statement waits on a locked database before
	// failing.
	BusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`

	// QueryTimeout bounds every store operation so a stalled database
	// surfaces as an error instead of hanging the request path.
	QueryTimeout time.Duration `env:"SQLITE_QUERY_TIMEOUT" envDefault:"3s"`
}

// DefaultConfig returns sensible defaults for production use. Path must be
// supplied by the caller.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		QueryTimeout: 3 * time.Second,
	}
}

// Connect opens the database file and verifies it is usable. The connection
// runs in autocommit mode with WAL journaling so concurrent readers do not
// block the single writer.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	// A single writer at a time keeps SQLITE_BUSY out of the hot path; the
	// busy timeout covers the rest.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	return db, nil
}

// Healthcheck returns a health check function for monitoring connectivity.
// The returned function is suitable for use with health check frameworks.
func Healthcheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
