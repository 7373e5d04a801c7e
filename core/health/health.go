package health

import (
	"context"
	"io"
	"log/slog"

	"github.com/dmitrymomot/tokengate/core/logger"
)

// Check verifies one dependency. The storage backends' Healthcheck
// constructors and the replenisher's Healthcheck method all satisfy it.
type Check func(context.Context) error

// Liveness indicates the process is running. Never fails and checks no
// dependencies.
func Liveness(context.Context) error {
	return nil
}

// Readiness combines dependency checks into one. The returned check fails
// on the first failing dependency and logs it; pass a nil log to silence.
func Readiness(log *slog.Logger, checks ...Check) Check {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
				return err
			}
		}
		return nil
	}
}
