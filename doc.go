// Package tokengate provides cumulative token quota limiting and enforcement
// for LLM-backed applications. The library implements modern Go patterns
// including functional options for configuration and interface-based design
// for flexibility and testability.
//
// Token spend is tracked as a balance per subject: every request decrements
// the balance by the tokens it consumed, a background loop periodically
// replenishes it, and a request that would overdraw the balance is refused
// with a typed error. Limiters are declared in configuration and enforced
// together, e.g. a per-user budget combined with a cluster-wide ceiling.
//
// # Package Organization
//
// Core packages hold the enforcement engine and its supporting concerns:
//
//	github.com/dmitrymomot/tokengate/core/quota   - Limiter contract, user/cluster limiters, factory, replenisher
//	github.com/dmitrymomot/tokengate/core/usage   - Append-only token usage ledger and provider extraction helpers
//	github.com/dmitrymomot/tokengate/core/config  - Type-safe environment variable loading
//	github.com/dmitrymomot/tokengate/core/logger  - Structured logging attribute helpers
//	github.com/dmitrymomot/tokengate/core/health  - Dependency readiness aggregation
//
// Integration packages provide the interchangeable storage backends:
//
//	github.com/dmitrymomot/tokengate/integration/database/sqlite - Embedded file-based backend
//	github.com/dmitrymomot/tokengate/integration/database/pg     - Networked PostgreSQL backend
//	github.com/dmitrymomot/tokengate/integration/database/redis  - Redis backend with Lua-scripted atomic operations
//
// # Getting Documentation
//
// For detailed documentation on any package, use the go doc command:
//
//	go doc github.com/dmitrymomot/tokengate/core/quota
//	go doc -all github.com/dmitrymomot/tokengate/integration/database/pg
//
// # Quick Start
//
//	cfg, err := quota.LoadFile("quota.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	open := func(ctx context.Context) (quota.RecordStore, error) {
//		db, err := sqlite.Connect(ctx, sqlite.DefaultConfig("quota.db"))
//		if err != nil {
//			return nil, err
//		}
//		return sqlite.NewStore(db, 3*time.Second), nil
//	}
//
//	limiters, err := quota.NewLimiters(cfg, open)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Request path: check, call the model, settle.
//	if err := quota.EnsureAvailable(ctx, limiters, userID); err != nil {
//		return err
//	}
//	completion, err := client.Chat.Completions.New(ctx, params)
//	if err != nil {
//		return err
//	}
//	in, out := usage.FromOpenAI(completion)
//	if err := quota.Consume(ctx, limiters, userID, in, out); err != nil {
//		return err
//	}
package tokengate
