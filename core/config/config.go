package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNilConfig is returned when Load receives a nil pointer.
var ErrNilConfig = errors.New("config: nil config pointer")

var (
	dotenvOnce sync.Once

	mu    sync.RWMutex
	cache = make(map[reflect.Type]any)
)

// Load parses environment variables into cfg. The first call in the process
// also loads a .env file when one exists. Results are cached per type: later
// calls with the same T return the originally parsed value, so configuration
// stays consistent for the application lifetime.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	dotenvOnce.Do(func() {
		// Missing .env is the normal production case, not an error.
		_ = godotenv.Load()
	})

	key := reflect.TypeOf(*cfg)

	mu.RLock()
	if cached, ok := cache[key]; ok {
		mu.RUnlock()
		*cfg = cached.(T)
		return nil
	}
	mu.RUnlock()

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if cached, ok := cache[key]; ok {
		// Another goroutine finished first; keep its value authoritative.
		*cfg = cached.(T)
		return nil
	}
	cache[key] = *cfg
	return nil
}

// MustLoad is Load that panics on failure. Intended for application startup
// where a missing required variable should halt the process.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
