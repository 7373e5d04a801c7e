package usage

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tokengate/core/logger"
)

// Recorder writes ledger entries with best-effort semantics: a store failure
// is logged and counted, never returned, so recording can sit on the request
// path without influencing the quota decision or the caller's control flow.
type Recorder struct {
	store  Store
	logger *slog.Logger

	// Observability metrics
	recorded atomic.Int64
	dropped  atomic.Int64
}

// RecorderStats provides observability metrics for monitoring and debugging.
type RecorderStats struct {
	Recorded int64 // Entries successfully appended
	Dropped  int64 // Entries lost to store failures
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger used to report dropped entries.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one consumption entry. Failures are swallowed by design;
// check Stats or the log stream to detect a degraded ledger backend.
func (r *Recorder) Record(ctx context.Context, subject, provider, model string, inputTokens, outputTokens int64) {
	if r.store == nil {
		return
	}

	entry := Entry{
		ID:           uuid.New(),
		Subject:      subject,
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CreatedAt:    time.Now().UTC(),
	}

	if err := r.store.Append(ctx, entry); err != nil {
		r.dropped.Add(1)
		r.logger.ErrorContext(ctx, "token usage entry dropped",
			logger.Subject(subject),
			logger.Provider(provider),
			logger.Model(model),
			logger.Error(err))
		return
	}
	r.recorded.Add(1)
}

// Stats returns recorder counters. Thread-safe.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
	}
}
