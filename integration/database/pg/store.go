package pg

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dmitrymomot/tokengate/core/quota"
	"github.com/dmitrymomot/tokengate/core/usage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements quota.RecordStore and usage.Store over a pgx connection
// pool. Each statement runs on its own pooled connection in autocommit mode;
// the conditional UPDATE is the only mutual exclusion the engine needs.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration

	migrateOnce sync.Once
	migrateErr  error
}

var (
	_ quota.RecordStore = (*Store)(nil)
	_ usage.Store       = (*Store)(nil)
)

// NewStore wraps an open pool. queryTimeout bounds every operation; pass 0
// to disable the bound.
func NewStore(pool *pgxpool.Pool, queryTimeout time.Duration) *Store {
	return &Store{pool: pool, queryTimeout: queryTimeout}
}

// EnsureSchema applies the embedded goose migrations through pgx's stdlib
// adapter. Idempotent: already applied migrations are skipped.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.migrateOnce.Do(func() {
		sub, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			s.migrateErr = errors.Join(ErrMigrationFailed, err)
			return
		}

		// The stdlib adapter borrows connections from the pool; closing it
		// returns them without closing the pool itself.
		db := stdlib.OpenDBFromPool(s.pool)
		defer func() { _ = db.Close() }()

		provider, err := goose.NewProvider(database.DialectPostgres, db, sub)
		if err != nil {
			s.migrateErr = errors.Join(ErrMigrationFailed, err)
			return
		}
		if _, err := provider.Up(ctx); err != nil {
			s.migrateErr = errors.Join(ErrMigrationFailed, err)
		}
	})
	return s.migrateErr
}

// Available implements quota.RecordStore.
func (s *Store) Available(ctx context.Context, scope quota.Scope, subject string, initial int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.seed(ctx, scope, subject, initial); err != nil {
		return 0, err
	}

	var available int64
	err := s.pool.QueryRow(ctx,
		`SELECT available FROM quota_records WHERE subject_scope = $1 AND subject_id = $2`,
		string(scope), subject,
	).Scan(&available)
	if err != nil {
		return 0, fmt.Errorf("pg: query balance: %w", err)
	}
	return available, nil
}

// Decrement implements quota.RecordStore. The conditional UPDATE only fires
// when the stored balance covers the amount, so concurrent consumers from
// any number of processes can never overdraw a row.
func (s *Store) Decrement(ctx context.Context, scope quota.Scope, subject string, amount, initial int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.seed(ctx, scope, subject, initial); err != nil {
		return 0, err
	}

	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE quota_records
		 SET available = available - $1
		 WHERE subject_scope = $2 AND subject_id = $3 AND available >= $1
		 RETURNING available`,
		amount, string(scope), subject,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, quota.ErrInsufficientQuota
	}
	if err != nil {
		return 0, fmt.Errorf("pg: decrement: %w", err)
	}
	return balance, nil
}

// Increment implements quota.RecordStore. A subject with no row starts from
// zero, mirroring the in-memory backend.
func (s *Store) Increment(ctx context.Context, scope quota.Scope, subject string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.seed(ctx, scope, subject, 0); err != nil {
		return 0, err
	}

	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE quota_records
		 SET available = available + $1
		 WHERE subject_scope = $2 AND subject_id = $3
		 RETURNING available`,
		amount, string(scope), subject,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("pg: increment: %w", err)
	}
	return balance, nil
}

// IncrementAll implements quota.RecordStore.
func (s *Store) IncrementAll(ctx context.Context, scope quota.Scope, amount, ceiling int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		tag pgconn.CommandTag
		err error
	)
	if ceiling > 0 {
		// Clamp at the ceiling without ever reducing a balance already
		// above it.
		tag, err = s.pool.Exec(ctx,
			`UPDATE quota_records
			 SET available = GREATEST(available, LEAST(available + $1, $2))
			 WHERE subject_scope = $3`,
			amount, ceiling, string(scope))
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE quota_records SET available = available + $1 WHERE subject_scope = $2`,
			amount, string(scope))
	}
	if err != nil {
		return 0, fmt.Errorf("pg: increment all: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Revoke implements quota.RecordStore. A subject with no row has nothing to
// reverse.
func (s *Store) Revoke(ctx context.Context, scope quota.Scope, subject string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE quota_records
		 SET available = available + $1, revoked = revoked + $1
		 WHERE subject_scope = $2 AND subject_id = $3
		 RETURNING available`,
		amount, string(scope), subject,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pg: revoke: %w", err)
	}
	return balance, nil
}

// Ping implements quota.RecordStore.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close implements quota.RecordStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Append implements usage.Store.
func (s *Store) Append(ctx context.Context, entry usage.Entry) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_usage (id, subject_id, provider, model, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Subject, entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: append usage: %w", err)
	}
	return nil
}

// BySubject implements usage.Store.
func (s *Store) BySubject(ctx context.Context, subject string, limit int) ([]usage.Entry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `SELECT id, subject_id, provider, model, input_tokens, output_tokens, created_at
		 FROM token_usage
		 WHERE subject_id = $1
		 ORDER BY created_at DESC`
	args := []any{subject}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query usage: %w", err)
	}
	defer rows.Close()

	var entries []usage.Entry
	for rows.Next() {
		var e usage.Entry
		if err := rows.Scan(&e.ID, &e.Subject, &e.Provider, &e.Model, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan usage: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: iterate usage: %w", err)
	}
	return entries, nil
}

// Totals implements usage.Store.
func (s *Store) Totals(ctx context.Context, subject string) (int64, int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var in, out int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM token_usage WHERE subject_id = $1`,
		subject,
	).Scan(&in, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("pg: usage totals: %w", err)
	}
	return in, out, nil
}

// seed lazily creates the quota row on first reference to a subject.
func (s *Store) seed(ctx context.Context, scope quota.Scope, subject string, initial int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_records (subject_scope, subject_id, available, revoked)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (subject_scope, subject_id) DO NOTHING`,
		string(scope), subject, initial)
	if err != nil {
		return fmt.Errorf("pg: seed quota row: %w", err)
	}
	return nil
}

// opCtx bounds an operation with the configured query timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}
