package pg

import "errors"

// Domain-specific errors for consistent error handling across the application.
// Use errors.Is() to check error types for retry logic and user-facing messages.
var (
	ErrEmptyConnectionString = errors.New("empty postgres connection string")
	ErrConnectionFailed      = errors.New("failed to connect to postgres")
	ErrMigrationFailed       = errors.New("failed to apply postgres migrations")
	ErrHealthcheckFailed     = errors.New("postgres healthcheck failed")
)
