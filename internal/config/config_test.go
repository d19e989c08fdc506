package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.PoolSize != 20971520 || cfg.DataBlockSize != 128 || cfg.LowWaterMark != 8 {
		t.Errorf("unexpected pool defaults: %+v", cfg)
	}
	if cfg.Iterations != 1000 {
		t.Errorf("iterations = %d", cfg.Iterations)
	}
	if cfg.RetryDelay != time.Second || cfg.DMTimeout != 30*time.Second {
		t.Errorf("unexpected timeouts: retry=%s dm=%s", cfg.RetryDelay, cfg.DMTimeout)
	}
	if cfg.StorageEnabled() {
		t.Error("storage should be disabled without a bucket")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("THINP_METADATA_DEV", "/dev/loop1")
	t.Setenv("THINP_ITERATIONS", "25")
	t.Setenv("THINP_RETRY_DELAY", "250ms")
	t.Setenv("THINP_S3_BUCKET", "thinp-reports")

	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MetadataDev != "/dev/loop1" {
		t.Errorf("metadata-dev = %q", cfg.MetadataDev)
	}
	if cfg.Iterations != 25 {
		t.Errorf("iterations = %d", cfg.Iterations)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry-delay = %s", cfg.RetryDelay)
	}
	if !cfg.StorageEnabled() {
		t.Error("storage should be enabled")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())
	yaml := "pool-name: scratch-pool\ndata-block-size: 256\nlog-level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PoolName != "scratch-pool" || cfg.DataBlockSize != 256 {
		t.Errorf("config file not applied: %+v", cfg)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("level = %v, %v", level, err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			MetadataDev: "/dev/vdb",
			DataDev:     "/dev/vdc",
			PoolName:    "test-pool",
			SQLitePath:  "ledger.db",
			FSMDBPath:   "fsm",
			LogLevel:    "info",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no metadata dev", func(c *Config) { c.MetadataDev = "" }, true},
		{"no data dev", func(c *Config) { c.DataDev = "" }, true},
		{"no pool name", func(c *Config) { c.PoolName = "" }, true},
		{"negative iterations", func(c *Config) { c.Iterations = -1 }, true},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"invalid block size is allowed", func(c *Config) { c.DataBlockSize = 185 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.shouldErr && err == nil {
				t.Error("expected error")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateTools(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		shouldErr bool
	}{
		{"no pool settings", Config{LogLevel: "info"}, false},
		{"negative command timeout", Config{LogLevel: "info", CommandTimeout: -time.Second}, true},
		{"bad log level", Config{LogLevel: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateTools()
			if tt.shouldErr && err == nil {
				t.Error("expected error")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if err := (&Config{LogLevel: "info"}).Validate(); err == nil {
		t.Error("full validation should still require the pool devices")
	}
}
