package commands

import (
	"fmt"

	"github.com/fly-io/thinp-harness/pkg/db"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-key]",
	Short: "List recorded runs, or the scenario results of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if len(args) == 1 {
		run, err := repo.GetRunByKey(args[0])
		if err != nil {
			return errors.Wrap(err, "query failed")
		}
		if run == nil {
			return fmt.Errorf("no run %q", args[0])
		}
		results, err := repo.ListResults(run.ID)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		printResults(run, results)
		return nil
	}

	runs, err := repo.ListRuns()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-28s %-8s %-16s %7s %7s %7s %-20s\n", "RUN KEY", "STATUS", "POOL", "PASSED", "FAILED", "SKIPPED", "CREATED")
	fmt.Println("------------------------------------------------------------------------------------------------------")

	for _, run := range runs {
		fmt.Printf("%-28s %-8s %-16s %7d %7d %7d %-20s\n",
			run.RunKey, run.Status, run.PoolName, run.Passed, run.Failed, run.Skipped, run.CreatedAt)
	}

	return nil
}
