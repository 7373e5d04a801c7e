package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dmitrymomot/tokengate/core/quota"
	"github.com/dmitrymomot/tokengate/core/usage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements quota.RecordStore and usage.Store over a single SQLite
// database file. Balance mutations are single autocommit statements, so
// atomicity holds without explicit transactions.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration

	migrateOnce sync.Once
	migrateErr  error
}

var (
	_ quota.RecordStore = (*Store)(nil)
	_ usage.Store       = (*Store)(nil)
)

// NewStore wraps an open database handle. queryTimeout bounds every
// operation; pass 0 to disable the bound.
func NewStore(db *sql.DB, queryTimeout time.Duration) *Store {
	return &Store{db: db, queryTimeout: queryTimeout}
}

// EnsureSchema applies the embedded goose migrations. Idempotent: already
// applied migrations are skipped.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.migrateOnce.Do(func() {
		sub, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			s.migrateErr = errors.Join(ErrMigrationFailed, err)
			return
		}
		provider, err := goose.NewProvider(database.DialectSQLite3, s.db, sub)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT available FROM quota_records WHERE subject_scope = ? AND subject_id = ?`,
		string(scope), subject,
	).Scan(&available)
	if err != nil {
		return 0, fmt.Errorf("sqlite: query balance: %w", err)
	}
	return available, nil
}

// Decrement implements quota.RecordStore. The conditional UPDATE is the
// atomicity boundary: it only fires when the stored balance covers the
// amount, so two concurrent consumers can never overdraw a row.
func (s *Store) Decrement(ctx context.Context, scope quota.Scope, subject string, amount, initial int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.seed(ctx, scope, subject, initial); err != nil {
		return 0, err
	}

	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE quota_records
		 SET available = available - ?
		 WHERE subject_scope = ? AND subject_id = ? AND available >= ?
		 RETURNING available`,
		amount, string(scope), subject, amount,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, quota.ErrInsufficientQuota
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: decrement: %w", err)
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
	err := s.db.QueryRowContext(ctx,
		`UPDATE quota_records
		 SET available = available + ?
		 WHERE subject_scope = ? AND subject_id = ?
		 RETURNING available`,
		amount, string(scope), subject,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sqlite: increment: %w", err)
	}
	return balance, nil
}

// IncrementAll implements quota.RecordStore.
func (s *Store) IncrementAll(ctx context.Context, scope quota.Scope, amount, ceiling int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if ceiling > 0 {
		// Clamp at the ceiling without ever reducing a balance already
		// above it.
		res, err = s.db.ExecContext(ctx,
			`UPDATE quota_records
			 SET available = MAX(available, MIN(available + ?, ?))
			 WHERE subject_scope = ?`,
			amount, ceiling, string(scope))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE quota_records SET available = available + ? WHERE subject_scope = ?`,
			amount, string(scope))
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: increment all: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: increment all: %w", err)
	}
	return affected, nil
}

// Revoke implements quota.RecordStore. A subject with no row has nothing to
// reverse.
func (s *Store) Revoke(ctx context.Context, scope quota.Scope, subject string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE quota_records
		 SET available = available + ?, revoked = revoked + ?
		 WHERE subject_scope = ? AND subject_id = ?
		 RETURNING available`,
		amount, amount, string(scope), subject,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: revoke: %w", err)
	}
	return balance, nil
}

// Ping implements quota.RecordStore.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close implements quota.RecordStore.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements usage.Store.
func (s *Store) Append(ctx context.Context, entry usage.Entry) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (id, subject_id, provider, model, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Subject, entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: append usage: %w", err)
	}
	return nil
}

// BySubject implements usage.Store.
func (s *Store) BySubject(ctx context.Context, subject string, limit int) ([]usage.Entry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, provider, model, input_tokens, output_tokens, created_at
		 FROM token_usage
		 WHERE subject_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		subject, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query usage: %w", err)
	}
	defer rows.Close()

	var entries []usage.Entry
	for rows.Next() {
		var (
			e  usage.Entry
			id string
		)
		if err := rows.Scan(&id, &e.Subject, &e.Provider, &e.Model, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan usage: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: parse usage id: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate usage: %w", err)
	}
	return entries, nil
}

// Totals implements usage.Store.
func (s *Store) Totals(ctx context.Context, subject string) (int64, int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var in, out int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM token_usage WHERE subject_id = ?`,
		subject,
	).Scan(&in, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: usage totals: %w", err)
	}
	return in, out, nil
}

// seed lazily creates the quota row on first reference to a subject.
func (s *Store) seed(ctx context.Context, scope quota.Scope, subject string, initial int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_records (subject_scope, subject_id, available, revoked)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT (subject_scope, subject_id) DO NOTHING`,
		string(scope), subject, initial)
	if err != nil {
		return fmt.Errorf("sqlite: seed quota row: %w", err)
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
