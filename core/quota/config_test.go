package quota_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/core/quota"
)

func TestLimiterConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := quota.LimiterConfig{
		Type:          quota.LimiterTypeUser,
		Name:          "per-user",
		InitialQuota:  100,
		QuotaIncrease: 10,
		Period:        time.Minute,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*quota.LimiterConfig)
		wantErr error
	}{
		{
			name:    "unknown type",
			mutate:  func(c *quota.LimiterConfig) { c.Type = "tenant" },
			wantErr: quota.ErrUnknownLimiterType,
		},
		{
			name:    "empty name",
			mutate:  func(c *quota.LimiterConfig) { c.Name = "" },
			wantErr: quota.ErrInvalidConfig,
		},
		{
			name:    "negative initial quota",
			mutate:  func(c *quota.LimiterConfig) { c.InitialQuota = -1 },
			wantErr: quota.ErrInvalidConfig,
		},
		{
			name:    "negative quota increase",
			mutate:  func(c *quota.LimiterConfig) { c.QuotaIncrease = -1 },
			wantErr: quota.ErrInvalidConfig,
		},
		{
			name:    "increase without period",
			mutate:  func(c *quota.LimiterConfig) { c.Period = 0 },
			wantErr: quota.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("static limiter needs no period", func(t *testing.T) {
		t.Parallel()

		cfg := valid
		cfg.QuotaIncrease = 0
		cfg.Period = 0
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("duplicate limiter names", func(t *testing.T) {
		t.Parallel()

		cfg := quota.Config{
			Limiters: []quota.LimiterConfig{
				{Type: quota.LimiterTypeUser, Name: "budget", InitialQuota: 100},
				{Type: quota.LimiterTypeCluster, Name: "budget", InitialQuota: 1000},
			},
		}
		require.ErrorIs(t, cfg.Validate(), quota.ErrInvalidConfig)
	})

	t.Run("empty config is valid", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, quota.Config{}.Validate())
	})

	t.Run("negative replenish tuning", func(t *testing.T) {
		t.Parallel()

		cfg := quota.Config{
			Replenish: quota.ReplenishConfig{ReconnectAttempts: -1},
		}
		require.ErrorIs(t, cfg.Validate(), quota.ErrInvalidConfig)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "quota.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
limiters:
  - type: user
    name: per-user
    initial_quota: 100000
    quota_increase: 10000
    period: 1h
  - type: cluster
    name: cluster-wide
    initial_quota: 5000000
replenish:
  period: 5m
  reconnect_attempts: 5
  reconnect_delay: 10s
  max_balance: 200000
`), 0o600))

		cfg, err := quota.LoadFile(path)
		require.NoError(t, err)

		require.Len(t, cfg.Limiters, 2)
		assert.Equal(t, quota.LimiterTypeUser, cfg.Limiters[0].Type)
		assert.Equal(t, int64(100000), cfg.Limiters[0].InitialQuota)
		assert.Equal(t, time.Hour, cfg.Limiters[0].Period)
		assert.Equal(t, quota.LimiterTypeCluster, cfg.Limiters[1].Type)

		assert.Equal(t, 5*time.Minute, cfg.Replenish.Period)
		assert.Equal(t, 5, cfg.Replenish.ReconnectAttempts)
		assert.Equal(t, 10*time.Second, cfg.Replenish.ReconnectDelay)
		assert.Equal(t, int64(200000), cfg.Replenish.MaxBalance)
	})

	t.Run("expands environment variables", func(t *testing.T) {
		t.Setenv("TEST_QUOTA_INITIAL", "42000")

		path := filepath.Join(t.TempDir(), "quota.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
limiters:
  - type: user
    name: per-user
    initial_quota: ${TEST_QUOTA_INITIAL}
`), 0o600))

		cfg, err := quota.LoadFile(path)
		require.NoError(t, err)
		require.Len(t, cfg.Limiters, 1)
		assert.Equal(t, int64(42000), cfg.Limiters[0].InitialQuota)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := quota.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "quota.yaml")
		require.NoError(t, os.WriteFile(path, []byte("limiters: [unclosed"), 0o600))

		_, err := quota.LoadFile(path)
		require.Error(t, err)
	})

	t.Run("validation failure surfaces", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "quota.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
limiters:
  - type: tenant
    name: per-tenant
`), 0o600))

		_, err := quota.LoadFile(path)
		require.ErrorIs(t, err, quota.ErrUnknownLimiterType)
	})
}

func TestDefaultReplenishConfig(t *testing.T) {
	t.Parallel()

	cfg := quota.DefaultReplenishConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Zero(t, cfg.MaxBalance)
}
