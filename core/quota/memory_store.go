package quota

import (
	"context"
	"sync"
)

// recordKey identifies one balance row.
type recordKey struct {
	scope   Scope
	subject string
}

// record mirrors the persisted quota row.
type record struct {
	available int64
	revoked   int64
}

// MemoryStore implements RecordStore in process memory. It provides the same
// atomic semantics as the database backends under a single mutex, which makes
// it suitable for tests and single-instance development setups. Balances are
// lost on restart and are not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*record
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*record),
	}
}

// SetError makes every subsequent operation fail with err until called again
// with nil. Used by tests to simulate a storage outage.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Revoked returns the revoked bookkeeping counter for a subject. Test helper.
func (m *MemoryStore) Revoked(scope Scope, subject string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[recordKey{scope, subject}]; ok {
		return rec.revoked
	}
	return 0
}

// EnsureSchema implements RecordStore. No-op for the in-memory backend.
func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// Available implements RecordStore.
func (m *MemoryStore) Available(ctx context.Context, scope Scope, subject string, initial int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	return m.seed(scope, subject, initial).available, nil
}

// Decrement implements RecordStore.
func (m *MemoryStore) Decrement(ctx context.Context, scope Scope, subject string, amount, initial int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}

	rec := m.seed(scope, subject, initial)
	if rec.available < amount {
		return 0, ErrInsufficientQuota
	}
	rec.available -= amount
	return rec.available, nil
}

// Increment implements RecordStore.
func (m *MemoryStore) Increment(ctx context.Context, scope Scope, subject string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}

	rec, ok := m.records[recordKey{scope, subject}]
	if !ok {
		rec = &record{}
		m.records[recordKey{scope, subject}] = rec
	}
	rec.available += amount
	return rec.available, nil
}

// IncrementAll implements RecordStore.
func (m *MemoryStore) IncrementAll(ctx context.Context, scope Scope, amount, ceiling int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}

	var affected int64
	for key, rec := range m.records {
		if key.scope != scope {
			continue
		}
		next := rec.available + amount
		if ceiling > 0 && next > ceiling {
			next = max(rec.available, ceiling)
		}
		rec.available = next
		affected++
	}
	return affected, nil
}

// Revoke implements RecordStore.
func (m *MemoryStore) Revoke(ctx context.Context, scope Scope, subject string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}

	rec, ok := m.records[recordKey{scope, subject}]
	if !ok {
		return 0, nil
	}
	rec.available += amount
	rec.revoked += amount
	return rec.available, nil
}

// Ping implements RecordStore.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// Close implements RecordStore. No-op; the store stays usable so a
// reconnecting caller can reuse it.
func (m *MemoryStore) Close() error {
	return nil
}

// seed returns the row for (scope, subject), creating it with the initial
// balance on first reference. Callers must hold the mutex.
func (m *MemoryStore) seed(scope Scope, subject string, initial int64) *record {
	key := recordKey{scope, subject}
	rec, ok := m.records[key]
	if !ok {
		rec = &record{available: initial}
		m.records[key] = rec
	}
	return rec
}
