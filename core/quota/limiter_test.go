package quota_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/core/quota"
)

// buildLimiters assembles a user limiter and a cluster limiter over the same
// store, the typical production stack.
func buildLimiters(t *testing.T, userInitial, clusterInitial int64) ([]quota.Limiter, *quota.MemoryStore) {
	t.Helper()

	store := quota.NewMemoryStore()
	cfg := quota.Config{
		Limiters: []quota.LimiterConfig{
			{Type: quota.LimiterTypeUser, Name: "per-user", InitialQuota: userInitial},
			{Type: quota.LimiterTypeCluster, Name: "cluster-wide", InitialQuota: clusterInitial},
		},
	}
	limiters, err := quota.NewLimiters(cfg, quota.StaticStore(store))
	require.NoError(t, err)
	require.Len(t, limiters, 2)
	return limiters, store
}

func TestEnsureAvailable_FailsFast(t *testing.T) {
	t.Parallel()

	limiters, _ := buildLimiters(t, 100, 1000)
	ctx := context.Background()

	require.NoError(t, quota.EnsureAvailable(ctx, limiters, "alice"))

	// Drain the per-user budget; the combined check now fails on the first
	// limiter and reports it by name.
	_, err := limiters[0].Consume(ctx, "alice", 100, 0)
	require.NoError(t, err)

	err = quota.EnsureAvailable(ctx, limiters, "alice")
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "per-user", exceeded.Limiter)
}

func TestConsume_AppliesToAllLimiters(t *testing.T) {
	t.Parallel()

	limiters, _ := buildLimiters(t, 100, 1000)
	ctx := context.Background()

	require.NoError(t, quota.Consume(ctx, limiters, "alice", 30, 10))

	quotas, err := quota.AvailableQuotas(ctx, limiters, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"per-user":     60,
		"cluster-wide": 960,
	}, quotas)
}

func TestConsume_RollsBackOnMidSequenceRejection(t *testing.T) {
	t.Parallel()

	// The cluster ceiling is the tighter budget: the user limiter grants
	// the spend, then the cluster limiter refuses it.
	limiters, store := buildLimiters(t, 100, 50)
	ctx := context.Background()

	err := quota.Consume(ctx, limiters, "alice", 60, 0)
	require.ErrorIs(t, err, quota.ErrInsufficientQuota)

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "cluster-wide", exceeded.Limiter)

	// The user limiter's decrement was reversed, so a partial spend never
	// sticks.
	quotas, err := quota.AvailableQuotas(ctx, limiters, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"per-user":     100,
		"cluster-wide": 50,
	}, quotas)
	assert.Equal(t, int64(60), store.Revoked(quota.ScopeUser, "alice"))
}

func TestConsume_StoreFailureSkipsRollback(t *testing.T) {
	t.Parallel()

	limiters, store := buildLimiters(t, 100, 1000)
	ctx := context.Background()

	// Seed both rows, then break the store mid-flight: the failure is a
	// storage outage, not a rejection, so no rollback is attempted and the
	// error keeps its unavailable tag.
	require.NoError(t, quota.Consume(ctx, limiters, "alice", 1, 0))
	store.SetError(context.DeadlineExceeded)

	err := quota.Consume(ctx, limiters, "alice", 1, 0)
	require.ErrorIs(t, err, quota.ErrStoreUnavailable)
	require.NotErrorIs(t, err, quota.ErrInsufficientQuota)
}

func TestAvailableQuotas(t *testing.T) {
	t.Parallel()

	t.Run("empty limiter set", func(t *testing.T) {
		t.Parallel()

		quotas, err := quota.AvailableQuotas(context.Background(), nil, "alice")
		require.NoError(t, err)
		assert.Empty(t, quotas)
	})

	t.Run("propagates storage failure", func(t *testing.T) {
		t.Parallel()

		limiters, store := buildLimiters(t, 100, 1000)
		store.SetError(context.DeadlineExceeded)

		_, err := quota.AvailableQuotas(context.Background(), limiters, "alice")
		require.ErrorIs(t, err, quota.ErrStoreUnavailable)
	})
}
