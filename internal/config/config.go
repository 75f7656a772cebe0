// Package config holds runtime settings for the pass engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries the engine's tunables. Values come from the environment
// (optionally overlaid from a .env file); unset values fall back to defaults.
type Config struct {
	// ServerURL is the base URL of the pass backend.
	ServerURL string `env:"PASS_SERVER_URL" envDefault:"https://localhost:8443"`

	// RequestTimeout bounds every single remote call.
	RequestTimeout time.Duration `env:"PASS_REQUEST_TIMEOUT" envDefault:"30s"`

	// DBPath is the path of the local SQLite cache. Defaults to
	// <user config dir>/pass/cache.sqlite.
	DBPath string `env:"PASS_DB_PATH"`

	// BatchSize is the maximum number of items per bulk request chunk.
	BatchSize int `env:"PASS_BATCH_SIZE" envDefault:"50"`
}

// Load builds a Config from the environment. A .env file in the working
// directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from env: %w", err)
	}

	if cfg.DBPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		cfg.DBPath = filepath.Join(dir, "pass", "cache.sqlite")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return cfg, nil
}
