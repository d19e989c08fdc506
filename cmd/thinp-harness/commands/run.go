package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fly-io/thinp-harness/pkg/db"
	"github.com/fly-io/thinp-harness/pkg/devicemapper"
	"github.com/fly-io/thinp-harness/pkg/errors"
	appfsm "github.com/fly-io/thinp-harness/pkg/fsm"
	"github.com/fly-io/thinp-harness/pkg/retry"
	"github.com/fly-io/thinp-harness/pkg/security"
	"github.com/fly-io/thinp-harness/pkg/storage"
	"github.com/fly-io/thinp-harness/pkg/suite"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
)

var (
	runPatterns  []string
	skipPatterns []string
	iterations   int
	runKey       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the thin-pool creation scenarios",
	Long: `Wipes the metadata device, runs every selected scenario against the
kernel driver, records the outcome in the run ledger and writes a JSON report.`,
	Args: cobra.NoArgs,
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runPatterns, "run", nil, "Only run scenarios matching this regex (repeatable)")
	runCmd.Flags().StringArrayVar(&skipPatterns, "skip", nil, "Skip scenarios matching this regex (repeatable)")
	runCmd.Flags().IntVar(&iterations, "iterations", 0, "Thins or snapshots created by the bulk scenarios (default from config)")
	runCmd.Flags().StringVar(&runKey, "run-key", "", "Ledger key of the run (default derived from the start time)")
}

func runSuite(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	var store appfsm.Uploader
	if cfg.StorageEnabled() {
		s3Client, err := storage.NewClient(ctx, storage.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Anonymous: cfg.S3Anonymous,
		})
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		store = s3Client
	} else {
		slog.Info("report_storage_disabled", "reason", "no s3-bucket configured")
	}

	runner, tools := newTools(cfg)
	driver, err := devicemapper.NewDriver(ctx, runner, cfg.DMTimeout)
	if err != nil {
		return errors.Wrap(err, "devicemapper unavailable")
	}

	policy := retry.Policy{Delay: cfg.RetryDelay}
	env := &suite.Env{
		Driver: driver,
		Tools:  tools,
		Pool: suite.ThinPoolParams{
			Name:          cfg.PoolName,
			MetadataDev:   cfg.MetadataDev,
			DataDev:       cfg.DataDev,
			Size:          cfg.PoolSize,
			DataBlockSize: cfg.DataBlockSize,
			LowWaterMark:  cfg.LowWaterMark,
		},
		Iterations:          cfg.Iterations,
		MetadataWipeSectors: cfg.MetadataWipeSectors,
		RemoveRetry:         &policy,
		WipeRetry:           &policy,
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(appfsm.Config{
		Repo:       repo,
		Store:      store,
		Validator:  security.NewValidator(),
		Env:        env,
		WorkDir:    cfg.WorkDir,
		MaxRetries: cfg.FSMMaxRetries,
	})
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	key := runKey
	if key == "" {
		key = "run-" + time.Now().UTC().Format("20060102T150405Z")
	}
	req := &appfsm.RunRequest{
		RunKey:     key,
		Run:        runPatterns,
		Skip:       skipPatterns,
		Iterations: iterations,
	}
	resp := &appfsm.RunResponse{}

	version, err := start(ctx, key, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_key", key, "version", version)

	waitErr := manager.Wait(ctx, version)

	run, err := repo.GetRunByKey(key)
	if err != nil {
		return errors.Wrap(err, "failed to load run")
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}
	if run == nil {
		return fmt.Errorf("run %s missing from ledger", key)
	}

	results, err := repo.ListResults(run.ID)
	if err != nil {
		return errors.Wrap(err, "failed to load results")
	}
	printResults(run, results)

	if run.Status != db.StatusPassed {
		return fmt.Errorf("run %s: %d scenario(s) failed", key, run.Failed)
	}
	return nil
}

func printResults(run *db.Run, results []*db.ScenarioResult) {
	fmt.Printf("%-55s %-8s %10s\n", "SCENARIO", "OUTCOME", "DURATION")
	fmt.Println("---------------------------------------------------------------------------")
	for _, r := range results {
		fmt.Printf("%-55s %-8s %10s\n", r.Name, r.Outcome, (time.Duration(r.DurationMS) * time.Millisecond).String())
		if r.ErrorMessage != "" {
			fmt.Printf("    %s\n", r.ErrorMessage)
		}
	}
	fmt.Printf("\n%s: %s (%d passed, %d failed, %d skipped)\n",
		run.RunKey, run.Status, run.Passed, run.Failed, run.Skipped)
	if run.ReportKey != "" {
		fmt.Printf("report: %s\n", run.ReportKey)
	}
}
