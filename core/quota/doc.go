// Package quota enforces cumulative LLM token budgets shared by many
// stateless service instances.
//
// Every subject (an individual user, or the whole cluster) owns a persisted
// balance of tokens. Requests check the balance before calling the model and
// consume the reported token usage afterwards. Because multiple processes
// mutate the same balances through a shared database, all mutations are
// expressed as single atomic statements at the storage layer; the package
// never performs read-modify-write cycles across process boundaries.
//
// # Core Types
//
// Limiter is the enforcement contract:
//   - EnsureAvailable(ctx, subject): read-only pre-flight check
//   - Consume(ctx, subject, inputTokens, outputTokens): atomic decrement
//   - Available(ctx, subject): read-only balance query for reporting
//   - Revoke(ctx, subject, amount): reverse a prior consumption
//
// RevokableLimiter is the shared implementation behind the user-scoped and
// cluster-scoped limiters built by NewUserLimiter and NewClusterLimiter.
// Cluster-scoped limiters collapse every subject onto one shared row, so a
// single balance governs the whole deployment.
//
// RecordStore is the small capability interface implemented by each storage
// backend (embedded SQLite file, PostgreSQL, Redis, or the in-process
// MemoryStore). Backend selection happens once, at construction time; nothing
// outside the factory branches on the backend kind.
//
// # Usage
//
// Build limiters from declarative configuration:
//
//	cfg, err := quota.LoadFile("limiters.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	limiters, err := quota.NewLimiters(cfg, quota.StaticStore(store))
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Enforce on the request path:
//
//	if err := quota.EnsureAvailable(ctx, limiters, userID); err != nil {
//		var exceeded *quota.ExceededError
//		if errors.As(err, &exceeded) {
//			// 429: quota exhausted
//		}
//		// otherwise 503: storage unavailable
//	}
//
//	// ... call the LLM ...
//
//	if err := quota.Consume(ctx, limiters, userID, in, out); err != nil {
//		// a concurrent request may have drained the balance between the
//		// check and the consume; treat as a soft reject, never a bug
//	}
//
// Replenish in the background:
//
//	rep, err := quota.NewReplenisher(cfg.Replenish, cfg.Limiters, opener)
//	if err != nil {
//		log.Fatal(err)
//	}
//	g.Go(rep.Run(ctx))
//
// # Concurrency Model
//
// There is no in-process lock shared between service instances. Correctness
// relies on conditional single-statement updates: a decrement only succeeds
// when the stored balance covers the requested amount, so balances can never
// go negative regardless of interleaving. EnsureAvailable followed by Consume
// is deliberately not transactional; a request that passed the check may
// still receive *ExceededError at consume time and must treat it as a
// retryable rejection.
//
// # Error Handling
//
// Three error kinds matter to callers:
//   - *ExceededError (wraps ErrInsufficientQuota): expected, user-facing,
//     carries the limiter name, subject, requested and available amounts
//   - ErrStoreUnavailable: the backend cannot be reached; recoverable
//   - ErrUnknownLimiterType / ErrInvalidConfig: fatal configuration errors
//     surfaced at startup
package quota
