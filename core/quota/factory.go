package quota

import (
	"fmt"
	"log/slog"
)

// NewLimiters builds the configured set of limiters. A nil opener (no
// storage backend configured) or an empty limiter list disables enforcement:
// the factory logs a warning and returns an empty slice rather than an
// error, so a deployment without quota configuration degrades to unlimited
// instead of failing at startup. An unrecognized limiter type is a fatal
// configuration error.
func NewLimiters(cfg Config, open StoreOpener, opts ...LimiterOption) ([]Limiter, error) {
	options := defaultLimiterOptions()
	for _, opt := range opts {
		opt(options)
	}

	if open == nil || len(cfg.Limiters) == 0 {
		options.logger.Warn("quota enforcement disabled",
			slog.Bool("storage_configured", open != nil),
			slog.Int("limiter_count", len(cfg.Limiters)))
		return []Limiter{}, nil
	}

	limiters := make([]Limiter, 0, len(cfg.Limiters))
	for i, lc := range cfg.Limiters {
		var (
			lim *RevokableLimiter
			err error
		)
		switch lc.Type {
		case LimiterTypeUser:
			lim, err = NewUserLimiter(lc, open, opts...)
		case LimiterTypeCluster:
			lim, err = NewClusterLimiter(lc, open, opts...)
		default:
			return nil, fmt.Errorf("limiter[%d]: %w: %q", i, ErrUnknownLimiterType, lc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("limiter[%d] %q: %w", i, lc.Name, err)
		}
		limiters = append(limiters, lim)
	}

	return limiters, nil
}
