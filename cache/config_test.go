package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.L1.Enabled || cfg.L1.MaxEntries <= 0 {
		t.Errorf("L1 defaults = %+v", cfg.L1)
	}
	if !cfg.L2.Enabled || cfg.L2.Path == "" {
		t.Errorf("L2 defaults = %+v", cfg.L2)
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		t.Errorf("sweep default = %+v", cfg.Sweep)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tarn.toml")
	data := `
[l1]
enabled = true
max_entries = 128

[l2]
enabled = true
path = "/tmp/test-store.db"
max_bytes = 1048576
shared = true

[sweep]
interval_seconds = 7
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.L1.MaxEntries != 128 {
		t.Errorf("max_entries = %d", cfg.L1.MaxEntries)
	}
	if cfg.L2.Path != "/tmp/test-store.db" || !cfg.L2.Shared || cfg.L2.MaxBytes != 1<<20 {
		t.Errorf("l2 = %+v", cfg.L2)
	}
	if cfg.Sweep.IntervalSeconds != 7 {
		t.Errorf("interval = %d", cfg.Sweep.IntervalSeconds)
	}
}

func TestLoadConfigFillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tarn.toml")
	if err := os.WriteFile(path, []byte("[l2]\nenabled = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.L1.MaxEntries <= 0 {
		t.Error("unset max_entries should fall back to the default")
	}
	if cfg.L2.Path == "" {
		t.Error("unset path should fall back to the default")
	}
	if cfg.Sweep.IntervalSeconds <= 0 {
		t.Error("unset interval should fall back to the default")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file should error")
	}
}
