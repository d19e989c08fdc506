package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fly-io/thinp-harness/internal/config"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger, set from configuration
// before any command runs.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "thinp-harness",
	Short: "Thin-provisioning control harness",
	Long:  `Builds device-mapper thin-pool tables, activates pools and runs the thin-pool creation scenarios against the kernel driver.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "config load failed")
		}
		level, err := cfg.Level()
		if err != nil {
			return err
		}
		LogLevel.Set(level)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("metadata-dev", "/dev/vdb", "Thin-pool metadata device")
	rootCmd.PersistentFlags().String("data-dev", "/dev/vdc", "Thin-pool data device")
	rootCmd.PersistentFlags().String("pool-name", "test-pool", "Device-mapper name of the pool")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/ledger.db", "SQLite run ledger path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/thinp-harness", "Directory for run reports")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for run reports (empty disables upload)")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().Duration("dm-timeout", 30*time.Second, "Timeout of a single dmsetup command")
	rootCmd.PersistentFlags().Duration("command-timeout", 10*time.Minute, "Timeout of wipe and pattern commands")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"metadata-dev", "data-dev", "pool-name", "sqlite-path", "fsm-db-path", "work-dir",
		"s3-bucket", "s3-region", "dm-timeout", "command-timeout", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
