// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/tokengate/core/config"
//
//	type StorageConfig struct {
//		SQLitePath string `env:"SQLITE_PATH"`
//		PGConnURL  string `env:"PG_CONN_URL"`
//	}
//
//	func main() {
//		var storage StorageConfig
//
//		// Load with error handling
//		if err := config.Load(&storage); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&storage)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 StorageConfig
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 StorageConfig
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently, so every component package can
// declare its own Config struct with env tags and load it at startup:
//
//	config.MustLoad(&quota.ReplenishConfig{})
//	config.MustLoad(&redis.Config{})
package config
