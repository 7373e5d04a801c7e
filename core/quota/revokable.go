package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/tokengate/core/logger"
)

// RevokableLimiter is the shared implementation behind user-scoped and
// cluster-scoped limiters. It owns the lazy store acquisition, the subject
// scope tag, and the translation of store-level errors into the package
// error taxonomy. The two concrete limiters differ only in the scope
// discriminator and in how the caller-supplied subject id is mapped onto a
// storage row.
type RevokableLimiter struct {
	name         string
	scope        Scope
	initialQuota int64
	increaseBy   int64
	subjectFn    func(string) string
	open         StoreOpener
	logger       *slog.Logger
	unavailFn    func(error) bool

	mu    sync.Mutex
	store RecordStore
}

// LimiterOption configures limiters built by the constructors and the
// factory.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	logger    *slog.Logger
	unavailFn func(error) bool
}

// WithLogger sets the logger used for connection lifecycle events. Defaults
// to a no-op logger.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(o *limiterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithUnavailableClassifier sets the predicate deciding whether a store
// error is a connectivity failure. Only errors it accepts get the
// ErrStoreUnavailable tag and drop the connection handle; everything else
// passes through unchanged. Backends that can tell the two apart export a
// matching helper, e.g. pg.IsUnavailable. Defaults to treating every store
// error as a connectivity failure.
func WithUnavailableClassifier(fn func(error) bool) LimiterOption {
	return func(o *limiterOptions) {
		if fn != nil {
			o.unavailFn = fn
		}
	}
}

func defaultLimiterOptions() *limiterOptions {
	return &limiterOptions{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		unavailFn: func(error) bool { return true },
	}
}

// NewUserLimiter builds a limiter tracking one balance row per user.
func NewUserLimiter(cfg LimiterConfig, open StoreOpener, opts ...LimiterOption) (*RevokableLimiter, error) {
	return newRevokable(cfg, ScopeUser, func(subject string) string { return subject }, open, opts...)
}

// NewClusterLimiter builds a limiter sharing a single balance row across the
// whole deployment. The caller-supplied subject id is ignored so every
// operation collapses onto the cluster sentinel row.
func NewClusterLimiter(cfg LimiterConfig, open StoreOpener, opts ...LimiterOption) (*RevokableLimiter, error) {
	return newRevokable(cfg, ScopeCluster, func(string) string { return ClusterSubject }, open, opts...)
}

func newRevokable(cfg LimiterConfig, scope Scope, subjectFn func(string) string, open StoreOpener, opts ...LimiterOption) (*RevokableLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, fmt.Errorf("%w: limiter %q: store opener is required", ErrInvalidConfig, cfg.Name)
	}

	options := defaultLimiterOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &RevokableLimiter{
		name:         cfg.Name,
		scope:        scope,
		initialQuota: cfg.InitialQuota,
		increaseBy:   cfg.QuotaIncrease,
		subjectFn:    subjectFn,
		open:         open,
		logger:       options.logger,
		unavailFn:    options.unavailFn,
	}, nil
}

// Name implements Limiter.
func (l *RevokableLimiter) Name() string { return l.name }

// Scope implements Limiter.
func (l *RevokableLimiter) Scope() Scope { return l.scope }

// InitialQuota returns the starting balance assigned to new subjects.
func (l *RevokableLimiter) InitialQuota() int64 { return l.initialQuota }

// IncreaseBy returns the per-period replenishment increment.
func (l *RevokableLimiter) IncreaseBy() int64 { return l.increaseBy }

// ensureStore is the guarded acquisition at the top of every public
// operation: the store is opened and migrated on first use and reused
// afterwards. Reconnection happens only after invalidate marks the handle
// dead, never implicitly per call.
func (l *RevokableLimiter) ensureStore(ctx context.Context) (RecordStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}

	store, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	l.logger.InfoContext(ctx, "quota store connected",
		logger.Limiter(l.name),
		logger.Scope(string(l.scope)))

	l.store = store
	return store, nil
}

// storeFailure translates a store error: connectivity-class failures drop
// the handle and carry the ErrStoreUnavailable tag, anything else passes
// through unchanged so a logic error is never mistaken for an outage.
func (l *RevokableLimiter) storeFailure(store RecordStore, err error) error {
	if l.unavailFn(err) {
		l.invalidate(store)
		return unavailable(err)
	}
	return err
}

// invalidate drops a handle that produced a connectivity error so the next
// operation reconnects instead of reusing a dead connection.
func (l *RevokableLimiter) invalidate(store RecordStore) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == store && store != nil {
		_ = store.Close()
		l.store = nil
	}
}

// EnsureAvailable implements Limiter. The check is read-only; it does not
// reserve tokens, and a passing result can still be invalidated by a
// concurrent consumer before Consume runs.
func (l *RevokableLimiter) EnsureAvailable(ctx context.Context, subject string) error {
	available, err := l.Available(ctx, subject)
	if err != nil {
		return err
	}
	if available <= 0 {
		return &ExceededError{
			Limiter:   l.name,
			Subject:   l.subjectFn(subject),
			Available: available,
		}
	}
	return nil
}

// Consume implements Limiter.
func (l *RevokableLimiter) Consume(ctx context.Context, subject string, inputTokens, outputTokens int64) (int64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("%w: input=%d output=%d", ErrInvalidTokenCount, inputTokens, outputTokens)
	}

	store, err := l.ensureStore(ctx)
	if err != nil {
		return 0, unavailable(err)
	}

	id := l.subjectFn(subject)
	total := inputTokens + outputTokens

	balance, err := store.Decrement(ctx, l.scope, id, total, l.initialQuota)
	switch {
	case errors.Is(err, ErrInsufficientQuota):
		// Read back the balance for the rejection payload; best-effort, the
		// decrement already told us it does not cover the total. A failed
		// read-back degrades Available to zero rather than masking the
		// rejection with a storage error.
		available, availErr := store.Available(ctx, l.scope, id, l.initialQuota)
		if availErr != nil {
			available = 0
		}
		return 0, &ExceededError{
			Limiter:   l.name,
			Subject:   id,
			Requested: total,
			Available: available,
		}
	case err != nil:
		return 0, l.storeFailure(store, err)
	}

	return balance, nil
}

// Available implements Limiter.
func (l *RevokableLimiter) Available(ctx context.Context, subject string) (int64, error) {
	store, err := l.ensureStore(ctx)
	if err != nil {
		return 0, unavailable(err)
	}

	available, err := store.Available(ctx, l.scope, l.subjectFn(subject), l.initialQuota)
	if err != nil {
		return 0, l.storeFailure(store, err)
	}
	return available, nil
}

// Revoke implements Limiter. It supports the reserve-then-release pattern:
// consume optimistically before an external call, revoke the same amount if
// that call ultimately fails.
func (l *RevokableLimiter) Revoke(ctx context.Context, subject string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount=%d", ErrInvalidTokenCount, amount)
	}
	if amount == 0 {
		return nil
	}

	store, err := l.ensureStore(ctx)
	if err != nil {
		return unavailable(err)
	}

	if _, err := store.Revoke(ctx, l.scope, l.subjectFn(subject), amount); err != nil {
		return l.storeFailure(store, err)
	}
	return nil
}
