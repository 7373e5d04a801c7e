package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable ledger record. Entries are additive only; nothing
// in this package updates or deletes them.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	Subject      string    `json:"subject"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists ledger entries. Implementations are append-only: Append is
// the single write path, the rest serve reporting.
type Store interface {
	// Append persists one entry.
	Append(ctx context.Context, entry Entry) error

	// BySubject returns the most recent entries for a subject, newest first,
	// capped at limit (<= 0 means no cap).
	BySubject(ctx context.Context, subject string, limit int) ([]Entry, error)

	// Totals returns the cumulative input and output token counts recorded
	// for a subject.
	Totals(ctx context.Context, subject string) (inputTokens, outputTokens int64, err error)
}
