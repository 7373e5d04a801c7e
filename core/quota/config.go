package quota

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LimiterType selects the subject scope of a configured limiter.
type LimiterType string

const (
	LimiterTypeUser    LimiterType = "user"
	LimiterTypeCluster LimiterType = "cluster"
)

// LimiterConfig declares one limiter instance. Multiple limiters of
// different scopes can be enforced together, e.g. a per-user budget plus a
// cluster-wide ceiling.
type LimiterConfig struct {
	Type          LimiterType   `yaml:"type" json:"type"`
	Name          string        `yaml:"name" json:"name"`
	InitialQuota  int64         `yaml:"initial_quota" json:"initial_quota"`
	QuotaIncrease int64         `yaml:"quota_increase" json:"quota_increase"`
	Period        time.Duration `yaml:"period" json:"period"`
}

// UnmarshalYAML decodes a limiter definition, accepting Go duration strings
// like "1h30m" for the period.
func (c *LimiterConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type          LimiterType `yaml:"type"`
		Name          string      `yaml:"name"`
		InitialQuota  int64       `yaml:"initial_quota"`
		QuotaIncrease int64       `yaml:"quota_increase"`
		Period        string      `yaml:"period"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Type = raw.Type
	c.Name = raw.Name
	c.InitialQuota = raw.InitialQuota
	c.QuotaIncrease = raw.QuotaIncrease
	if raw.Period != "" {
		d, err := time.ParseDuration(raw.Period)
		if err != nil {
			return fmt.Errorf("limiter %q: invalid period: %w", raw.Name, err)
		}
		c.Period = d
	}
	return nil
}

// Validate checks a single limiter definition.
func (c LimiterConfig) Validate() error {
	switch c.Type {
	case LimiterTypeUser, LimiterTypeCluster:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLimiterType, c.Type)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: limiter name is required", ErrInvalidConfig)
	}
	if c.InitialQuota < 0 {
		return fmt.Errorf("%w: limiter %q: initial_quota must be >= 0", ErrInvalidConfig, c.Name)
	}
	if c.QuotaIncrease < 0 {
		return fmt.Errorf("%w: limiter %q: quota_increase must be >= 0", ErrInvalidConfig, c.Name)
	}
	if c.QuotaIncrease > 0 && c.Period <= 0 {
		return fmt.Errorf("%w: limiter %q: period must be > 0 when quota_increase is set", ErrInvalidConfig, c.Name)
	}
	return nil
}

// scope maps the declared type onto the storage discriminator.
func (c LimiterConfig) scope() Scope {
	if c.Type == LimiterTypeCluster {
		return ScopeCluster
	}
	return ScopeUser
}

// ReplenishConfig tunes the background replenisher.
// Designed for environment-based configuration using popular env parsing libraries.
type ReplenishConfig struct {
	// Period is the base tick interval. Zero means "derive from the shortest
	// limiter period".
	Period time.Duration `yaml:"period" env:"TOKENGATE_REPLENISH_PERIOD"`

	// ReconnectAttempts bounds how many times a tick retries reopening the
	// store after a storage failure before giving up until the next tick.
	ReconnectAttempts int `yaml:"reconnect_attempts" env:"TOKENGATE_RECONNECT_ATTEMPTS" envDefault:"3"`

	// ReconnectDelay is the sleep between reconnection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"TOKENGATE_RECONNECT_DELAY" envDefault:"5s"`

	// MaxBalance caps replenished balances when > 0. Zero leaves growth
	// unbounded.
	MaxBalance int64 `yaml:"max_balance" env:"TOKENGATE_MAX_BALANCE"`
}

// UnmarshalYAML decodes the replenisher tuning, accepting Go duration
// strings for period and reconnect_delay.
func (c *ReplenishConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Period            string `yaml:"period"`
		ReconnectAttempts *int   `yaml:"reconnect_attempts"`
		ReconnectDelay    string `yaml:"reconnect_delay"`
		MaxBalance        int64  `yaml:"max_balance"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	defaults := DefaultReplenishConfig()
	*c = defaults

	if raw.Period != "" {
		d, err := time.ParseDuration(raw.Period)
		if err != nil {
			return fmt.Errorf("replenish: invalid period: %w", err)
		}
		c.Period = d
	}
	if raw.ReconnectAttempts != nil {
		c.ReconnectAttempts = *raw.ReconnectAttempts
	}
	if raw.ReconnectDelay != "" {
		d, err := time.ParseDuration(raw.ReconnectDelay)
		if err != nil {
			return fmt.Errorf("replenish: invalid reconnect_delay: %w", err)
		}
		c.ReconnectDelay = d
	}
	c.MaxBalance = raw.MaxBalance
	return nil
}

// DefaultReplenishConfig returns sensible defaults for production use.
func DefaultReplenishConfig() ReplenishConfig {
	return ReplenishConfig{
		ReconnectAttempts: 3,
		ReconnectDelay:    5 * time.Second,
	}
}

// Validate checks the replenisher tuning values.
func (c ReplenishConfig) Validate() error {
	if c.Period < 0 {
		return fmt.Errorf("%w: replenish period must be >= 0", ErrInvalidConfig)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("%w: reconnect_attempts must be >= 0", ErrInvalidConfig)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("%w: reconnect_delay must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Config is the declarative surface consumed by the factory and the
// replenisher.
type Config struct {
	Limiters  []LimiterConfig `yaml:"limiters"`
	Replenish ReplenishConfig `yaml:"replenish"`
}

// Validate checks every limiter definition and the replenisher tuning.
// Limiter names must be unique so reporting maps stay unambiguous.
func (c Config) Validate() error {
	names := make(map[string]struct{}, len(c.Limiters))
	for i, lim := range c.Limiters {
		if err := lim.Validate(); err != nil {
			return fmt.Errorf("limiter[%d]: %w", i, err)
		}
		if _, dup := names[lim.Name]; dup {
			return fmt.Errorf("%w: duplicate limiter name %q", ErrInvalidConfig, lim.Name)
		}
		names[lim.Name] = struct{}{}
	}
	return c.Replenish.Validate()
}

// LoadFile reads a YAML configuration file. Environment variables in the
// ${VAR} format are expanded before parsing.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quota: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quota: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
