package quota

import "context"

// Scope discriminates quota rows by subject kind. Stored as a single
// character so the composite key stays compact.
type Scope string

const (
	// ScopeUser keeps one balance row per user.
	ScopeUser Scope = "u"

	// ScopeCluster keeps a single balance row shared by the whole deployment.
	ScopeCluster Scope = "c"
)

// ClusterSubject is the fixed subject id of the single cluster-scoped row.
// Cluster limiters override the caller-supplied subject with this sentinel.
const ClusterSubject = "cluster"

// Valid reports whether the scope is one of the known discriminators.
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeCluster
}

// RecordStore is the capability set a storage backend must provide. One
// implementation exists per backend (sqlite, pg, redis, MemoryStore); the
// backend is chosen once at construction time.
//
// All balance mutations must be atomic single statements: Decrement is a
// conditional update that only succeeds when the stored balance covers the
// amount, Increment/IncrementAll/Revoke are unconditional atomic adds.
// Implementations must bound every call with a timeout so a stalled backend
// surfaces as an error instead of hanging the request path.
type RecordStore interface {
	// EnsureSchema creates the quota and usage tables if absent. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Available returns the stored balance, lazily creating the row with the
	// given initial balance when the subject has never been seen.
	Available(ctx context.Context, scope Scope, subject string, initial int64) (int64, error)

	// Decrement atomically subtracts amount from the balance, seeding an
	// absent row with initial first. Returns the new balance, or
	// ErrInsufficientQuota without mutating state when the balance cannot
	// cover the amount.
	Decrement(ctx context.Context, scope Scope, subject string, amount, initial int64) (int64, error)

	// Increment atomically adds amount to an existing subject's balance and
	// returns the new value.
	Increment(ctx context.Context, scope Scope, subject string, amount int64) (int64, error)

	// IncrementAll atomically adds amount to every existing row of the scope,
	// clamping each balance at ceiling when ceiling > 0 (balances already
	// above the ceiling are never reduced). Returns the number of rows
	// affected.
	IncrementAll(ctx context.Context, scope Scope, amount, ceiling int64) (int64, error)

	// Revoke reverses a prior consumption: atomically adds amount back to the
	// balance and records it in the revoked bookkeeping column. A subject
	// with no row has nothing to reverse; Revoke returns 0 without error.
	Revoke(ctx context.Context, scope Scope, subject string, amount int64) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// StoreOpener lazily opens a RecordStore. Limiters and the replenisher hold
// an opener instead of a live handle so the first operation establishes the
// connection and a detected failure can be healed by reopening.
type StoreOpener func(ctx context.Context) (RecordStore, error)

// StaticStore adapts an already-open store into a StoreOpener. Useful when
// the application owns the connection lifecycle: handles given out suppress
// Close, so a limiter or replenisher invalidating its handle after a
// transient failure reopens against the same live store instead of shutting
// it down for every other component sharing it.
func StaticStore(s RecordStore) StoreOpener {
	return func(context.Context) (RecordStore, error) {
		return noCloseStore{s}, nil
	}
}

// noCloseStore keeps Close with the owning caller.
type noCloseStore struct {
	RecordStore
}

func (noCloseStore) Close() error { return nil }
