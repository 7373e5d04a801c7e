package redis

import "errors"

// Domain-specific Redis errors for consistent error handling across the application.
// Use errors.Is() to check error types for retry logic and user-facing messages.
var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrConnectionFailed             = errors.New("failed to connect to redis")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	ErrScriptLoadFailed             = errors.New("failed to load redis scripts")
)
