package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/tokengate/core/logger"
)

// Replenisher periodically raises every subject's balance by each limiter's
// configured increment. It is a single cooperative loop: one tick runs at a
// time, and a transient storage outage is healed by a bounded number of
// reconnection attempts. Exhausting the attempts logs the failure and waits
// for the next tick; the loop only terminates at process shutdown.
type Replenisher struct {
	cfg      ReplenishConfig
	limiters []LimiterConfig
	open     StoreOpener
	interval time.Duration
	logger   *slog.Logger

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	store   RecordStore

	// lastApplied tracks, per limiter name, when its increment last ran so
	// limiters with different periods share one ticker.
	lastApplied map[string]time.Time

	// Observability metrics
	ticks       atomic.Int64
	applied     atomic.Int64
	failedTicks atomic.Int64
	reconnects  atomic.Int64
}

// ReplenisherStats provides observability metrics for monitoring and debugging.
type ReplenisherStats struct {
	Ticks       int64 // Total number of completed ticks
	Applied     int64 // Total number of successful per-limiter increments
	FailedTicks int64 // Ticks that exhausted all reconnection attempts
	Reconnects  int64 // Total reconnection attempts made
	IsRunning   bool  // Whether the loop is currently running
}

// ReplenisherOption configures a Replenisher.
type ReplenisherOption func(*replenisherOptions)

type replenisherOptions struct {
	logger *slog.Logger
}

// WithReplenisherLogger sets the logger for the replenishment loop.
func WithReplenisherLogger(logger *slog.Logger) ReplenisherOption {
	return func(o *replenisherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Replenisher lifecycle errors.
var (
	ErrReplenisherNotConfigured = errors.New("no limiters with quota_increase configured")
	ErrReplenisherNotRunning    = errors.New("replenisher is not running")
)

// NewReplenisher builds the background replenishment loop from the limiter
// definitions. Only limiters with a positive quota_increase participate.
func NewReplenisher(cfg ReplenishConfig, limiters []LimiterConfig, open StoreOpener, opts ...ReplenisherOption) (*Replenisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, fmt.Errorf("%w: store opener is required", ErrInvalidConfig)
	}

	active := make([]LimiterConfig, 0, len(limiters))
	for _, lc := range limiters {
		if err := lc.Validate(); err != nil {
			return nil, err
		}
		if lc.QuotaIncrease > 0 {
			active = append(active, lc)
		}
	}
	if len(active) == 0 {
		return nil, ErrReplenisherNotConfigured
	}

	interval := cfg.Period
	if interval <= 0 {
		for _, lc := range active {
			if interval <= 0 || lc.Period < interval {
				interval = lc.Period
			}
		}
	}

	options := &replenisherOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Replenisher{
		cfg:         cfg,
		limiters:    active,
		open:        open,
		interval:    interval,
		logger:      options.logger,
		lastApplied: make(map[string]time.Time, len(active)),
	}, nil
}

// Start begins the replenishment loop. This is a blocking operation that runs
// until the context is cancelled. Use Run() for errgroup pattern or call this
// in a goroutine.
func (r *Replenisher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("replenisher already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(r.ctx, "replenisher started",
		slog.Int("limiter_count", len(r.limiters)),
		slog.Duration("tick_interval", r.interval))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.InfoContext(context.Background(), "replenisher stopping")
			return r.ctx.Err()
		case <-ticker.C:
			r.tickWithWait()
		}
	}
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (r *Replenisher) Stop() error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return ErrReplenisherNotRunning
	}
	cancel := r.cancel
	r.cancel = nil
	store := r.store
	r.store = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	if store != nil {
		_ = store.Close()
	}
	return nil
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (r *Replenisher) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- r.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = r.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns current loop statistics. Thread-safe.
func (r *Replenisher) Stats() ReplenisherStats {
	return ReplenisherStats{
		Ticks:       r.ticks.Load(),
		Applied:     r.applied.Load(),
		FailedTicks: r.failedTicks.Load(),
		Reconnects:  r.reconnects.Load(),
		IsRunning:   r.running.Load(),
	}
}

// Healthcheck validates that the loop is running. Suitable for readiness
// endpoints.
func (r *Replenisher) Healthcheck(ctx context.Context) error {
	if !r.running.Load() {
		return ErrReplenisherNotRunning
	}
	return nil
}

// tickWithWait guards a tick with the WaitGroup so Stop can drain it.
func (r *Replenisher) tickWithWait() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.ticks.Add(1)
	r.tick(r.ctx)
}

// tick applies the due increments, retrying through reconnection when the
// store fails. The loop never propagates the failure: after the attempt
// budget is spent it logs and leaves recovery to the next tick.
func (r *Replenisher) tick(ctx context.Context) {
	err := r.apply(ctx)
	if err == nil {
		return
	}

	r.logger.ErrorContext(ctx, "replenishment failed, reconnecting",
		logger.Error(err),
		slog.Int("max_attempts", r.cfg.ReconnectAttempts))

	for attempt := 1; attempt <= r.cfg.ReconnectAttempts; attempt++ {
		if !r.sleep(ctx, r.cfg.ReconnectDelay) {
			return
		}

		r.reconnects.Add(1)
		r.invalidateStore()

		if err = r.apply(ctx); err == nil {
			r.logger.InfoContext(ctx, "replenisher reconnected",
				logger.Attempt(attempt))
			return
		}

		r.logger.ErrorContext(ctx, "replenisher reconnection attempt failed",
			logger.Attempt(attempt),
			slog.Int("max_attempts", r.cfg.ReconnectAttempts),
			logger.Error(err))
	}

	r.failedTicks.Add(1)
	r.logger.ErrorContext(ctx, "replenishment attempts exhausted, waiting for next tick",
		logger.Error(err))
}

// apply runs the due per-limiter increments against the store.
func (r *Replenisher) apply(ctx context.Context) error {
	store, err := r.ensureStore(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, lc := range r.limiters {
		if !r.due(lc, now) {
			continue
		}

		rows, err := store.IncrementAll(ctx, lc.scope(), lc.QuotaIncrease, r.cfg.MaxBalance)
		if err != nil {
			return err
		}

		r.markApplied(lc.Name, now)
		r.applied.Add(1)
		r.logger.DebugContext(ctx, "quota replenished",
			logger.Limiter(lc.Name),
			slog.Int64("increase_by", lc.QuotaIncrease),
			slog.Int64("rows", rows))
	}
	return nil
}

// due reports whether the limiter's own period has elapsed since its last
// successful increment.
func (r *Replenisher) due(lc LimiterConfig, now time.Time) bool {
	r.mu.Lock()
	last, seen := r.lastApplied[lc.Name]
	r.mu.Unlock()

	if !seen {
		return true
	}
	return now.Sub(last) >= lc.Period
}

func (r *Replenisher) markApplied(name string, at time.Time) {
	r.mu.Lock()
	r.lastApplied[name] = at
	r.mu.Unlock()
}

func (r *Replenisher) ensureStore(ctx context.Context) (RecordStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		return r.store, nil
	}

	store, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	r.store = store
	return store, nil
}

func (r *Replenisher) invalidateStore() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		_ = r.store.Close()
		r.store = nil
	}
}

// sleep waits for d unless the context is cancelled first. Returns false on
// cancellation.
func (r *Replenisher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
