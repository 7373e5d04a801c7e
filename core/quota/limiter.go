package quota

import (
	"context"
	"errors"
)

// Limiter is the enforcement contract every configured limiter provides.
type Limiter interface {
	// Name returns the configured limiter name, used as the key in reporting
	// maps and carried inside *ExceededError.
	Name() string

	// Scope returns the subject scope the limiter enforces.
	Scope() Scope

	// EnsureAvailable performs a read-only check and fails with
	// *ExceededError when the subject's balance is exhausted. It never
	// mutates state; a passing check does not reserve tokens.
	EnsureAvailable(ctx context.Context, subject string) error

	// Consume atomically decrements the balance by inputTokens+outputTokens
	// and returns the new balance. A race lost against a concurrent consumer
	// surfaces as *ExceededError with the balance unchanged.
	Consume(ctx context.Context, subject string, inputTokens, outputTokens int64) (int64, error)

	// Available returns the subject's current balance.
	Available(ctx context.Context, subject string) (int64, error)

	// Revoke returns previously consumed tokens to the balance. Used when a
	// downstream call fails after an optimistic Consume.
	Revoke(ctx context.Context, subject string, amount int64) error
}

// EnsureAvailable runs the read-only pre-flight check against every limiter,
// failing fast on the first rejection. Storage failures are tagged with
// ErrStoreUnavailable so callers can answer with a backend-unavailable
// outcome instead of a quota rejection.
func EnsureAvailable(ctx context.Context, limiters []Limiter, subject string) error {
	for _, lim := range limiters {
		if err := lim.EnsureAvailable(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// Consume applies the token usage to every limiter. When a limiter rejects
// mid-sequence, the amounts already taken from earlier limiters are revoked
// before the rejection is returned, so a partially applied consumption never
// sticks. Revocation is best-effort: a store failure during rollback does not
// mask the original rejection.
func Consume(ctx context.Context, limiters []Limiter, subject string, inputTokens, outputTokens int64) error {
	total := inputTokens + outputTokens
	for i, lim := range limiters {
		if _, err := lim.Consume(ctx, subject, inputTokens, outputTokens); err != nil {
			if errors.Is(err, ErrInsufficientQuota) {
				for _, applied := range limiters[:i] {
					_ = applied.Revoke(ctx, subject, total)
				}
			}
			return err
		}
	}
	return nil
}

// AvailableQuotas collects the remaining balance per limiter name for
// reporting on a status endpoint.
func AvailableQuotas(ctx context.Context, limiters []Limiter, subject string) (map[string]int64, error) {
	quotas := make(map[string]int64, len(limiters))
	for _, lim := range limiters {
		n, err := lim.Available(ctx, subject)
		if err != nil {
			return nil, err
		}
		quotas[lim.Name()] = n
	}
	return quotas, nil
}
