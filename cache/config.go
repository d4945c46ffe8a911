package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config controls both cache tiers and the sweeper. It is read from a
// TOML file; zero values fall back to the defaults below.
type Config struct {
	L1    L1Config    `toml:"l1"`
	L2    L2Config    `toml:"l2"`
	Sweep SweepConfig `toml:"sweep"`
}

// L1Config controls the identity cache.
type L1Config struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max_entries"`
}

// L2Config controls the content store.
type L2Config struct {
	Enabled  bool   `toml:"enabled"`
	Path     string `toml:"path"`
	MaxBytes int64  `toml:"max_bytes"`
	// Shared permits reuse of MEDIUM entries written by other runs, for
	// stores on trusted shared storage.
	Shared bool `toml:"shared"`
}

// SweepConfig controls the background sweeper.
type SweepConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		L1: L1Config{
			Enabled:    true,
			MaxEntries: 65536,
		},
		L2: L2Config{
			Enabled:  true,
			Path:     defaultStorePath(),
			MaxBytes: 256 << 20,
		},
		Sweep: SweepConfig{
			IntervalSeconds: int(DefaultSweepInterval.Seconds()),
		},
	}
}

func defaultStorePath() string {
	if p := os.Getenv("TARN_STORE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tarn.db"
	}
	return filepath.Join(home, ".tarn", "store.db")
}

// LoadConfig reads a TOML config file, filling unset fields from the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("cache: loading config %s: %w", path, err)
	}
	if cfg.L1.MaxEntries <= 0 {
		cfg.L1.MaxEntries = 65536
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		cfg.Sweep.IntervalSeconds = int(DefaultSweepInterval.Seconds())
	}
	if cfg.L2.Enabled && cfg.L2.Path == "" {
		cfg.L2.Path = defaultStorePath()
	}
	return cfg, nil
}
