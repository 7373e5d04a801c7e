package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tokengate/core/quota"
	"github.com/dmitrymomot/tokengate/core/usage"
)

const (
	quotaKeyPrefix = "tokengate:quota:"
	usageKeyPrefix = "tokengate:usage:"
)

// Each script seeds the subject hash on first touch and mutates the balance
// in the same atomic execution, so concurrent callers observe the store the
// way they would a conditional SQL UPDATE.
var (
	// KEYS[1] subject hash, KEYS[2] scope index. ARGV: subject, initial.
	availableScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'available', ARGV[2], 'revoked', 0)
  redis.call('SADD', KEYS[2], ARGV[1])
end
return redis.call('HGET', KEYS[1], 'available')`)

	// KEYS[1] subject hash, KEYS[2] scope index. ARGV: subject, amount,
	// initial. Returns {1, balance} on success, {0, balance} on refusal.
	decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'available', ARGV[3], 'revoked', 0)
  redis.call('SADD', KEYS[2], ARGV[1])
end
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
local amount = tonumber(ARGV[2])
if available < amount then
  return {0, available}
end
return {1, redis.call('HINCRBY', KEYS[1], 'available', -amount)}`)

	// KEYS[1] subject hash, KEYS[2] scope index. ARGV: subject, amount.
	// A subject with no hash starts from zero.
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'available', 0, 'revoked', 0)
  redis.call('SADD', KEYS[2], ARGV[1])
end
return redis.call('HINCRBY', KEYS[1], 'available', ARGV[2])`)

	// KEYS[1] subject hash. ARGV: amount, ceiling. Clamps at the ceiling
	// without ever reducing a balance already above it. Nil for a missing
	// subject.
	replenishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
local updated = available + tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])
if ceiling > 0 and updated > ceiling then
  if available > ceiling then
    updated = available
  else
    updated = ceiling
  end
end
redis.call('HSET', KEYS[1], 'available', updated)
return updated`)

	// KEYS[1] subject hash. ARGV: amount. Nil for a missing subject:
	// nothing to reverse.
	revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HINCRBY', KEYS[1], 'revoked', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'available', ARGV[1])`)
)

// Store implements quota.RecordStore and usage.Store over a Redis instance.
// Balances live in one hash per subject with a per-scope index set; the
// usage ledger is one stream per subject.
type Store struct {
	client       *redis.Client
	queryTimeout time.Duration
}

var (
	_ quota.RecordStore = (*Store)(nil)
	_ usage.Store       = (*Store)(nil)
)

// NewStore wraps a connected client. queryTimeout bounds every operation;
// pass 0 to disable the bound.
func NewStore(client *redis.Client, queryTimeout time.Duration) *Store {
	return &Store{client: client, queryTimeout: queryTimeout}
}

// EnsureSchema preloads the Lua scripts into the server script cache. Redis
// itself is schemaless, so there is nothing else to set up.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	scripts := []*redis.Script{availableScript, decrementScript, incrementScript, replenishScript, revokeScript}
	for _, script := range scripts {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return errors.Join(ErrScriptLoadFailed, err)
		}
	}
	return nil
}

// Available implements quota.RecordStore.
func (s *Store) Available(ctx context.Context, scope quota.Scope, subject string, initial int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	available, err := availableScript.Run(ctx, s.client,
		[]string{quotaKey(scope, subject), indexKey(scope)},
		subject, initial,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: query balance: %w", err)
	}
	return available, nil
}

// Decrement implements quota.RecordStore. The script reads and decrements
// the balance in one atomic execution, so two concurrent consumers can
// never overdraw a subject.
func (s *Store) Decrement(ctx context.Context, scope quota.Scope, subject string, amount, initial int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := decrementScript.Run(ctx, s.client,
		[]string{quotaKey(scope, subject), indexKey(scope)},
		subject, amount, initial,
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("redis: decrement: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redis: decrement: unexpected script reply of %d elements", len(res))
	}
	granted, ok := res[0].(int64)
	if !ok {
		return 0, fmt.Errorf("redis: decrement: unexpected script reply type %T", res[0])
	}
	if granted == 0 {
		return 0, quota.ErrInsufficientQuota
	}
	balance, ok := res[1].(int64)
	if !ok {
		return 0, fmt.Errorf("redis: decrement: unexpected script reply type %T", res[1])
	}
	return balance, nil
}

// Increment implements quota.RecordStore.
func (s *Store) Increment(ctx context.Context, scope quota.Scope, subject string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	balance, err := incrementScript.Run(ctx, s.client,
		[]string{quotaKey(scope, subject), indexKey(scope)},
		subject, amount,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: increment: %w", err)
	}
	return balance, nil
}

// IncrementAll implements quota.RecordStore. Subjects are resolved through
// the scope index and replenished one script call each; a crash mid-loop
// leaves already-credited subjects credited, which the next cycle's clamp
// keeps from compounding.
func (s *Store) IncrementAll(ctx context.Context, scope quota.Scope, amount, ceiling int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	subjects, err := s.client.SMembers(ctx, indexKey(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: increment all: %w", err)
	}

	var affected int64
	for _, subject := range subjects {
		err := replenishScript.Run(ctx, s.client,
			[]string{quotaKey(scope, subject)},
			amount, ceiling,
		).Err()
		if errors.Is(err, redis.Nil) {
			continue // hash expired out from under the index
		}
		if err != nil {
			return affected, fmt.Errorf("redis: increment all: %w", err)
		}
		affected++
	}
	return affected, nil
}

// Revoke implements quota.RecordStore. A subject with no hash has nothing
// to reverse.
func (s *Store) Revoke(ctx context.Context, scope quota.Scope, subject string, amount int64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	balance, err := revokeScript.Run(ctx, s.client,
		[]string{quotaKey(scope, subject)},
		amount,
	).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: revoke: %w", err)
	}
	return balance, nil
}

// Ping implements quota.RecordStore.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close implements quota.RecordStore.
func (s *Store) Close() error {
	return s.client.Close()
}

// Append implements usage.Store. Streams are append-only, which matches the
// ledger contract by construction.
func (s *Store) Append(ctx context.Context, entry usage.Entry) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: usageKey(entry.Subject),
		Values: map[string]any{
			"id":            entry.ID.String(),
			"provider":      entry.Provider,
			"model":         entry.Model,
			"input_tokens":  entry.InputTokens,
			"output_tokens": entry.OutputTokens,
			"created_at":    entry.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append usage: %w", err)
	}
	return nil
}

// BySubject implements usage.Store.
func (s *Store) BySubject(ctx context.Context, subject string, limit int) ([]usage.Entry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = s.client.XRevRangeN(ctx, usageKey(subject), "+", "-", int64(limit)).Result()
	} else {
		msgs, err = s.client.XRevRange(ctx, usageKey(subject), "+", "-").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: query usage: %w", err)
	}

	entries := make([]usage.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := parseEntry(subject, msg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Totals implements usage.Store.
func (s *Store) Totals(ctx context.Context, subject string) (inputTokens, outputTokens int64, err error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msgs, err := s.client.XRange(ctx, usageKey(subject), "-", "+").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: query usage totals: %w", err)
	}

	for _, msg := range msgs {
		in, err := fieldInt64(msg, "input_tokens")
		if err != nil {
			return 0, 0, err
		}
		out, err := fieldInt64(msg, "output_tokens")
		if err != nil {
			return 0, 0, err
		}
		inputTokens += in
		outputTokens += out
	}
	return inputTokens, outputTokens, nil
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func quotaKey(scope quota.Scope, subject string) string {
	return quotaKeyPrefix + string(scope) + ":" + subject
}

func indexKey(scope quota.Scope) string {
	return quotaKeyPrefix + string(scope) + ":index"
}

func usageKey(subject string) string {
	return usageKeyPrefix + subject
}

func parseEntry(subject string, msg redis.XMessage) (usage.Entry, error) {
	entry := usage.Entry{Subject: subject}

	id, err := fieldString(msg, "id")
	if err != nil {
		return usage.Entry{}, err
	}
	if entry.ID, err = uuid.Parse(id); err != nil {
		return usage.Entry{}, fmt.Errorf("redis: parse usage id: %w", err)
	}
	if entry.Provider, err = fieldString(msg, "provider"); err != nil {
		return usage.Entry{}, err
	}
	if entry.Model, err = fieldString(msg, "model"); err != nil {
		return usage.Entry{}, err
	}
	if entry.InputTokens, err = fieldInt64(msg, "input_tokens"); err != nil {
		return usage.Entry{}, err
	}
	if entry.OutputTokens, err = fieldInt64(msg, "output_tokens"); err != nil {
		return usage.Entry{}, err
	}
	createdAt, err := fieldString(msg, "created_at")
	if err != nil {
		return usage.Entry{}, err
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return usage.Entry{}, fmt.Errorf("redis: parse usage timestamp: %w", err)
	}
	return entry, nil
}

func fieldString(msg redis.XMessage, field string) (string, error) {
	v, ok := msg.Values[field]
	if !ok {
		return "", fmt.Errorf("redis: usage entry %s missing field %q", msg.ID, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("redis: usage entry %s field %q has type %T", msg.ID, field, v)
	}
	return s, nil
}

func fieldInt64(msg redis.XMessage, field string) (int64, error) {
	s, err := fieldString(msg, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: usage entry %s field %q: %w", msg.ID, field, err)
	}
	return n, nil
}
