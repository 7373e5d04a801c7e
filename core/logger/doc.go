// Package logger provides nil-safe slog.Attr helpers shared by the quota and
// usage packages.
//
// Helpers follow the empty-Attr pattern: passing a nil error or empty value
// yields an attribute slog silently drops, so call sites never need explicit
// nil checks:
//
//	log.Error("replenishment failed", logger.Error(err), logger.Limiter(name))
//
// Domain helpers (Subject, Limiter, Tokens, Scope) keep attribute keys
// consistent across packages so log streams aggregate cleanly.
package logger
