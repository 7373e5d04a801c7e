package quota_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/core/quota"
)

// closableStore wraps MemoryStore with a Close that actually takes effect,
// the way a database-backed store behaves.
type closableStore struct {
	*quota.MemoryStore
	mu     sync.Mutex
	closed bool
}

func newClosableStore() *closableStore {
	return &closableStore{MemoryStore: quota.NewMemoryStore()}
}

func (c *closableStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closableStore) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func userConfig(name string, initial int64) quota.LimiterConfig {
	return quota.LimiterConfig{
		Type:         quota.LimiterTypeUser,
		Name:         name,
		InitialQuota: initial,
	}
}

func TestNewUserLimiter_Validation(t *testing.T) {
	t.Parallel()

	t.Run("nil opener", func(t *testing.T) {
		t.Parallel()

		_, err := quota.NewUserLimiter(userConfig("per-user", 100), nil)
		require.ErrorIs(t, err, quota.ErrInvalidConfig)
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()

		cfg := userConfig("", 100)
		_, err := quota.NewUserLimiter(cfg, quota.StaticStore(quota.NewMemoryStore()))
		require.ErrorIs(t, err, quota.ErrInvalidConfig)
	})
}

func TestRevokableLimiter_Consume(t *testing.T) {
	t.Parallel()

	t.Run("decrements by input plus output", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		balance, err := lim.Consume(context.Background(), "alice", 12, 8)
		require.NoError(t, err)
		assert.Equal(t, int64(80), balance)
	})

	t.Run("zero tokens is a valid no-op spend", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		balance, err := lim.Consume(context.Background(), "alice", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("negative tokens rejected", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		_, err = lim.Consume(context.Background(), "alice", -1, 5)
		require.ErrorIs(t, err, quota.ErrInvalidTokenCount)

		_, err = lim.Consume(context.Background(), "alice", 5, -1)
		require.ErrorIs(t, err, quota.ErrInvalidTokenCount)
	})

	t.Run("exhaustion yields typed rejection", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 10), quota.StaticStore(store))
		require.NoError(t, err)

		_, err = lim.Consume(context.Background(), "alice", 7, 4)
		require.ErrorIs(t, err, quota.ErrInsufficientQuota)

		var exceeded *quota.ExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, "per-user", exceeded.Limiter)
		assert.Equal(t, "alice", exceeded.Subject)
		assert.Equal(t, int64(11), exceeded.Requested)
		assert.Equal(t, int64(10), exceeded.Available)

		// The rejected spend must not have moved the balance.
		available, err := lim.Available(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(10), available)
	})

	t.Run("storage failure tagged unavailable", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		// Connect first, then break the store.
		_, err = lim.Available(context.Background(), "alice")
		require.NoError(t, err)

		outage := errors.New("connection reset")
		store.SetError(outage)

		_, err = lim.Consume(context.Background(), "alice", 1, 1)
		require.ErrorIs(t, err, quota.ErrStoreUnavailable)
		require.ErrorIs(t, err, outage)
		require.NotErrorIs(t, err, quota.ErrInsufficientQuota)

		// Recovery: the dead handle was invalidated, the next call
		// reconnects through the opener.
		store.SetError(nil)
		balance, err := lim.Consume(context.Background(), "alice", 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(98), balance)
	})
}

func TestRevokableLimiter_EnsureAvailable(t *testing.T) {
	t.Parallel()

	store := quota.NewMemoryStore()
	lim, err := quota.NewUserLimiter(userConfig("per-user", 2), quota.StaticStore(store))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, lim.EnsureAvailable(ctx, "alice"))

	_, err = lim.Consume(ctx, "alice", 1, 1)
	require.NoError(t, err)

	err = lim.EnsureAvailable(ctx, "alice")
	require.ErrorIs(t, err, quota.ErrInsufficientQuota)

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(0), exceeded.Available)
	assert.Equal(t, int64(0), exceeded.Requested, "pre-flight check requests nothing")

	// The check never mutates state.
	available, err := lim.Available(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
}

func TestRevokableLimiter_Revoke(t *testing.T) {
	t.Parallel()

	t.Run("returns consumed tokens", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		ctx := context.Background()
		_, err = lim.Consume(ctx, "alice", 20, 10)
		require.NoError(t, err)

		require.NoError(t, lim.Revoke(ctx, "alice", 30))

		available, err := lim.Available(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), available)
		assert.Equal(t, int64(30), store.Revoked(quota.ScopeUser, "alice"))
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		require.NoError(t, lim.Revoke(context.Background(), "alice", 0))
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		t.Parallel()

		store := quota.NewMemoryStore()
		lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store))
		require.NoError(t, err)

		err = lim.Revoke(context.Background(), "alice", -5)
		require.ErrorIs(t, err, quota.ErrInvalidTokenCount)
	})
}

func TestClusterLimiter_SharedBalance(t *testing.T) {
	t.Parallel()

	store := quota.NewMemoryStore()
	cfg := quota.LimiterConfig{
		Type:         quota.LimiterTypeCluster,
		Name:         "cluster-wide",
		InitialQuota: 100,
	}
	lim, err := quota.NewClusterLimiter(cfg, quota.StaticStore(store))
	require.NoError(t, err)
	assert.Equal(t, quota.ScopeCluster, lim.Scope())

	ctx := context.Background()

	// Different callers all draw from the single cluster row.
	_, err = lim.Consume(ctx, "alice", 30, 0)
	require.NoError(t, err)
	balance, err := lim.Consume(ctx, "bob", 30, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	available, err := lim.Available(ctx, "anyone")
	require.NoError(t, err)
	assert.Equal(t, int64(40), available)

	// The rejection names the sentinel subject, not the caller.
	_, err = lim.Consume(ctx, "carol", 50, 0)
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, quota.ClusterSubject, exceeded.Subject)
}

func TestStaticStore_CallerOwnsLifecycle(t *testing.T) {
	t.Parallel()

	backend := newClosableStore()
	open := quota.StaticStore(backend)

	user, err := quota.NewUserLimiter(userConfig("per-user", 100), open)
	require.NoError(t, err)
	cluster, err := quota.NewClusterLimiter(quota.LimiterConfig{
		Type:         quota.LimiterTypeCluster,
		Name:         "cluster-wide",
		InitialQuota: 1000,
	}, open)
	require.NoError(t, err)
	limiters := []quota.Limiter{user, cluster}

	ctx := context.Background()
	require.NoError(t, quota.EnsureAvailable(ctx, limiters, "alice"))

	// Transient outage: both limiters invalidate their handles.
	outage := errors.New("connection reset")
	backend.SetError(outage)
	err = quota.EnsureAvailable(ctx, limiters, "alice")
	require.ErrorIs(t, err, quota.ErrStoreUnavailable)

	// Outage clears: every limiter must come back through the shared store,
	// which invalidation is not allowed to have closed.
	backend.SetError(nil)
	require.NoError(t, quota.EnsureAvailable(ctx, limiters, "alice"))
	require.NoError(t, quota.Consume(ctx, limiters, "alice", 5, 5))
	assert.False(t, backend.isClosed(), "limiter closed a store it does not own")
}

// rejectingStore refuses every decrement and fails the balance read-back,
// modeling a race lost right as the backend degrades.
type rejectingStore struct{}

func (rejectingStore) EnsureSchema(context.Context) error { return nil }
func (rejectingStore) Available(context.Context, quota.Scope, string, int64) (int64, error) {
	return 0, context.DeadlineExceeded
}
func (rejectingStore) Decrement(context.Context, quota.Scope, string, int64, int64) (int64, error) {
	return 0, quota.ErrInsufficientQuota
}
func (rejectingStore) Increment(context.Context, quota.Scope, string, int64) (int64, error) {
	return 0, nil
}
func (rejectingStore) IncrementAll(context.Context, quota.Scope, int64, int64) (int64, error) {
	return 0, nil
}
func (rejectingStore) Revoke(context.Context, quota.Scope, string, int64) (int64, error) {
	return 0, nil
}
func (rejectingStore) Ping(context.Context) error { return nil }
func (rejectingStore) Close() error               { return nil }

func TestRevokableLimiter_RejectionSurvivesReadBackFailure(t *testing.T) {
	t.Parallel()

	lim, err := quota.NewUserLimiter(userConfig("per-user", 10), quota.StaticStore(rejectingStore{}))
	require.NoError(t, err)

	// The rejection stands even when the balance cannot be re-read; the
	// payload degrades to Available zero instead of masking it with a
	// storage error.
	_, err = lim.Consume(context.Background(), "alice", 7, 4)
	require.ErrorIs(t, err, quota.ErrInsufficientQuota)
	require.NotErrorIs(t, err, quota.ErrStoreUnavailable)

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(11), exceeded.Requested)
	assert.Equal(t, int64(0), exceeded.Available)
}

func TestRevokableLimiter_UnavailableClassifier(t *testing.T) {
	t.Parallel()

	store := quota.NewMemoryStore()
	lim, err := quota.NewUserLimiter(userConfig("per-user", 100), quota.StaticStore(store),
		quota.WithUnavailableClassifier(func(err error) bool {
			return errors.Is(err, context.DeadlineExceeded)
		}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = lim.Available(ctx, "alice")
	require.NoError(t, err)

	// A logic error passes through untagged and keeps the connection.
	logicErr := errors.New("syntax error at or near \"UPDTE\"")
	store.SetError(logicErr)

	_, err = lim.Consume(ctx, "alice", 1, 0)
	require.ErrorIs(t, err, logicErr)
	require.NotErrorIs(t, err, quota.ErrStoreUnavailable)

	// A connectivity-class error still gets the unavailable tag.
	store.SetError(context.DeadlineExceeded)

	_, err = lim.Consume(ctx, "alice", 1, 0)
	require.ErrorIs(t, err, quota.ErrStoreUnavailable)

	store.SetError(nil)
	balance, err := lim.Consume(ctx, "alice", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(98), balance)
}

func TestRevokableLimiter_OpenerFailure(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("dial tcp: connection refused")
	var attempts int
	open := func(ctx context.Context) (quota.RecordStore, error) {
		attempts++
		return nil, dialErr
	}

	lim, err := quota.NewUserLimiter(userConfig("per-user", 100), open)
	require.NoError(t, err, "construction must not touch the backend")

	_, err = lim.Available(context.Background(), "alice")
	require.ErrorIs(t, err, quota.ErrStoreUnavailable)
	require.ErrorIs(t, err, dialErr)

	// Every operation retries the opener while the backend stays down.
	_, err = lim.Consume(context.Background(), "alice", 1, 0)
	require.ErrorIs(t, err, quota.ErrStoreUnavailable)
	assert.Equal(t, 2, attempts)
}
