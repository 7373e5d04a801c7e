package quota

import (
	"errors"
	"fmt"
)

// Package-level error definitions for quota operations.
var (
	// ErrInsufficientQuota is reported by RecordStore.Decrement when the
	// stored balance cannot cover the requested amount. The balance is left
	// untouched. Limiters translate it into an *ExceededError.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrStoreUnavailable indicates the storage backend could not be reached.
	// Recoverable: the replenisher retries, the request path surfaces it as a
	// backend-unavailable outcome.
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrInvalidTokenCount is returned when a negative token amount is passed
	// to Consume or Revoke.
	ErrInvalidTokenCount = errors.New("invalid token count")

	// ErrUnknownLimiterType is a fatal configuration error: a limiter
	// definition names a type other than "user" or "cluster".
	ErrUnknownLimiterType = errors.New("unknown limiter type")

	// ErrInvalidConfig covers malformed limiter or replenisher configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ExceededError is returned when a consumption would take a subject's balance
// negative, or when a pre-flight check finds the balance exhausted. It is an
// expected outcome under load, not a logic error; callers should map it to a
// 429-equivalent rejection.
type ExceededError struct {
	Limiter   string // name of the limiter that rejected the request
	Subject   string // effective subject id (the cluster sentinel for cluster scope)
	Requested int64  // tokens requested; zero for read-only checks
	Available int64  // balance observed at rejection time; zero when it could not be re-read
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	if e.Requested <= 0 {
		return fmt.Sprintf("quota exceeded on %q for subject %q: no tokens available", e.Limiter, e.Subject)
	}
	return fmt.Sprintf("quota exceeded on %q for subject %q: requested %d, available %d",
		e.Limiter, e.Subject, e.Requested, e.Available)
}

// Unwrap lets errors.Is(err, ErrInsufficientQuota) match rejections raised at
// either the check or the consume stage.
func (e *ExceededError) Unwrap() error {
	return ErrInsufficientQuota
}

// unavailable tags err as a storage connectivity failure while preserving the
// original cause for errors.Is/As inspection.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStoreUnavailable, err)
}
