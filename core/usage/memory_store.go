package usage

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory. Entries are lost on
// restart; intended for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	failErr error
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetError makes every subsequent operation fail with err until called again
// with nil. Used by tests to simulate a broken ledger backend.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

// BySubject implements Store.
func (m *MemoryStore) BySubject(ctx context.Context, subject string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}

	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Subject != subject {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Totals implements Store.
func (m *MemoryStore) Totals(ctx context.Context, subject string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, 0, m.failErr
	}

	var in, out int64
	for _, e := range m.entries {
		if e.Subject != subject {
			continue
		}
		in += e.InputTokens
		out += e.OutputTokens
	}
	return in, out, nil
}
