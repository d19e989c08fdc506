package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Pool devices
	MetadataDev string `mapstructure:"metadata-dev"`
	DataDev     string `mapstructure:"data-dev"`
	PoolName    string `mapstructure:"pool-name"`

	// Standard pool parameters, in sectors (low water mark in blocks)
	PoolSize      uint64 `mapstructure:"pool-size"`
	DataBlockSize uint64 `mapstructure:"data-block-size"`
	LowWaterMark  uint64 `mapstructure:"low-water-mark"`
	Iterations    int    `mapstructure:"iterations"`

	// MetadataWipeSectors limits the per-activation metadata wipe; zero wipes the
	// whole device.
	MetadataWipeSectors uint64 `mapstructure:"metadata-wipe-sectors"`

	// Timeouts and retry
	CommandTimeout time.Duration `mapstructure:"command-timeout"`
	DMTimeout      time.Duration `mapstructure:"dm-timeout"`
	RetryDelay     time.Duration `mapstructure:"retry-delay"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Working directory
	WorkDir string `mapstructure:"work-dir"`

	// S3 configuration; an empty bucket disables report upload
	S3Bucket    string `mapstructure:"s3-bucket"`
	S3Region    string `mapstructure:"s3-region"`
	S3Endpoint  string `mapstructure:"s3-endpoint"`
	S3Anonymous bool   `mapstructure:"s3-anonymous"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`

	LogLevel string `mapstructure:"log-level"`
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("metadata-dev", "/dev/vdb")
	v.SetDefault("data-dev", "/dev/vdc")
	v.SetDefault("pool-name", "test-pool")
	v.SetDefault("pool-size", 20971520)
	v.SetDefault("data-block-size", 128)
	v.SetDefault("low-water-mark", 8)
	v.SetDefault("iterations", 1000)
	v.SetDefault("metadata-wipe-sectors", 0)
	v.SetDefault("command-timeout", 10*time.Minute)
	v.SetDefault("dm-timeout", 30*time.Second)
	v.SetDefault("retry-delay", time.Second)
	v.SetDefault("sqlite-path", ".artifacts/ledger.db")
	v.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	v.SetDefault("work-dir", "/tmp/thinp-harness")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("s3-endpoint", "")
	v.SetDefault("s3-anonymous", false)
	v.SetDefault("fsm-max-retries", 5)
	v.SetDefault("log-level", "info")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (will be THINP_METADATA_DEV, etc.)
	v.SetEnvPrefix("THINP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.thinp-harness")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors. Pool geometry is not checked
// here: invalid tables are a test subject, rejected by the table builder.
func (c *Config) Validate() error {
	if err := c.ValidateTools(); err != nil {
		return err
	}
	if c.MetadataDev == "" {
		return fmt.Errorf("metadata-dev cannot be empty")
	}
	if c.DataDev == "" {
		return fmt.Errorf("data-dev cannot be empty")
	}
	if c.PoolName == "" {
		return fmt.Errorf("pool-name cannot be empty")
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be non-negative")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}

// ValidateTools checks only what the single-device commands need.
func (c *Config) ValidateTools() error {
	if c.CommandTimeout < 0 || c.DMTimeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return level, nil
}

// StorageEnabled reports whether reports are uploaded.
func (c *Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}
