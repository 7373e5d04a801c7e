package sqlite

import "errors"

// Domain-specific errors for consistent error handling across the application.
// Use errors.Is() to check error types for retry logic and user-facing messages.
var (
	ErrEmptyPath         = errors.New("empty sqlite database path")
	ErrConnectionFailed  = errors.New("failed to open sqlite database")
	ErrMigrationFailed   = errors.New("failed to apply sqlite migrations")
	ErrHealthcheckFailed = errors.New("sqlite healthcheck failed")
)
