// Package usage records LLM token consumption in an append-only ledger,
// independent of quota enforcement.
//
// The ledger exists for audit and reporting: every completed model call adds
// one immutable entry carrying the subject, provider, model and token counts.
// Entries are never mutated or deleted, and a revoked quota consumption does
// not remove its ledger entry: the ledger reflects what happened, the quota
// balance reflects what it cost.
//
// Recording is a best-effort side channel. The Recorder wraps a Store and
// swallows write failures after logging them, so a broken ledger backend can
// never block or roll back a quota decision.
//
// # Usage
//
//	rec := usage.NewRecorder(store, usage.WithRecorderLogger(log))
//
//	// after the LLM call returns:
//	in, out := usage.FromOpenAI(completion)
//	rec.Record(ctx, userID, "openai", "gpt-4o", in, out)
//
// The FromOpenAI and FromGenAI helpers extract token counts from the raw
// provider responses so callers do not need to know each SDK's usage shape.
package usage
