package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors, enabling safe usage without nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors".
// Uses index-based keys to preserve error order. Returns empty Attr for all nil errors.
func Errors(errs ...error) slog.Attr {
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	if count == 0 {
		return slog.Attr{}
	}

	as := make([]slog.Attr, 0, count)
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Attempt creates an attribute for retry attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Subject creates an attribute for quota subject identifiers.
func Subject(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subject", id)
}

// Limiter creates an attribute for limiter names.
func Limiter(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("limiter", name)
}

// Scope creates an attribute for quota subject scopes.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Provider creates an attribute for LLM provider identifiers.
func Provider(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("provider", id)
}

// Model creates an attribute for model identifiers.
func Model(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("model", id)
}

// Tokens groups input and output token counts under the key "tokens".
func Tokens(inputTokens, outputTokens int64) slog.Attr {
	return slog.Attr{Key: "tokens", Value: slog.GroupValue(
		slog.Int64("input", inputTokens),
		slog.Int64("output", outputTokens),
	)}
}
