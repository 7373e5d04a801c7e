// Package health aggregates dependency checks for service health monitoring.
//
// A check is any func(context.Context) error; the storage backends and the
// replenisher all expose one. Readiness combines them into a single check
// suitable for a readiness probe, Liveness always passes.
//
// Usage:
//
//	ready := health.Readiness(logger,
//		pg.Healthcheck(pool),
//		redis.Healthcheck(client),
//		replenisher.Healthcheck,
//	)
//	if err := ready(ctx); err != nil {
//		// report 503
//	}
package health
