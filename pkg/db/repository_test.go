package db

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)

	run := &Run{
		RunKey:     "run-20261014-01",
		Status:     StatusPending,
		PoolName:   "test-pool",
		Filters:    `skip any not matching "creation/"`,
		Iterations: 1000,
	}
	if err := repo.CreateRun(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == 0 {
		t.Error("run ID not set")
	}

	got, err := repo.GetRunByKey("run-20261014-01")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.PoolName != run.PoolName || got.Iterations != 1000 || got.Filters != run.Filters {
		t.Errorf("retrieved run mismatch: got %+v, want %+v", got, run)
	}

	missing, err := repo.GetRunByKey("nope")
	if err != nil || missing != nil {
		t.Errorf("missing run: got %+v, %v", missing, err)
	}
}

func TestRepository_DuplicateKeyRejected(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.CreateRun(&Run{RunKey: "k", Status: StatusPending, PoolName: "p"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateRun(&Run{RunKey: "k", Status: StatusPending, PoolName: "p"}); err == nil {
		t.Error("expected unique constraint violation")
	}
}

func TestRepository_UpdateAndFinish(t *testing.T) {
	repo := newTestRepo(t)
	run := &Run{RunKey: "k", Status: StatusPending, PoolName: "p"}
	if err := repo.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdateRunStatus(run.ID, StatusRunning, ""); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if err := repo.FinishRun(context.Background(), run.ID, StatusFailed, Summary{Passed: 8, Failed: 1, Skipped: 1}, "reports/k.json"); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, _ := repo.GetRunByKey("k")
	if got.Status != StatusFailed || got.Passed != 8 || got.Failed != 1 || got.Skipped != 1 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.ReportKey != "reports/k.json" {
		t.Errorf("report key = %q", got.ReportKey)
	}

	if err := repo.UpdateRunStatus(9999, StatusFailed, "x"); err == nil {
		t.Error("expected error updating a missing run")
	}
}

func TestRepository_InvalidStatusRejected(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.CreateRun(&Run{RunKey: "k", Status: "ready", PoolName: "p"}); err == nil {
		t.Error("expected check constraint violation")
	}
}

func TestRepository_Results(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	run := &Run{RunKey: "k", Status: StatusRunning, PoolName: "p"}
	if err := repo.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	err := repo.AddResults(ctx, run.ID, []ScenarioResult{
		{Name: "creation/lots_of_snaps", Outcome: "passed", DurationMS: 1200},
		{Name: "creation/largest_dev_t_succeeds", Outcome: "failed", ErrorMessage: "dm message rejected"},
	})
	if err != nil {
		t.Fatalf("failed to add results: %v", err)
	}
	// Resumed runs re-record scenarios.
	if err := repo.AddResult(ctx, &ScenarioResult{RunID: run.ID, Name: "creation/largest_dev_t_succeeds", Outcome: "passed"}); err != nil {
		t.Fatal(err)
	}

	results, err := repo.ListResults(run.ID)
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "creation/largest_dev_t_succeeds" || results[0].Outcome != "passed" || results[0].ErrorMessage != "" {
		t.Errorf("result not replaced: %+v", results[0])
	}
	if results[1].DurationMS != 1200 {
		t.Errorf("duration = %d", results[1].DurationMS)
	}
}

func TestRepository_ListRuns(t *testing.T) {
	repo := newTestRepo(t)

	repo.CreateRun(&Run{RunKey: "first", Status: StatusPassed, PoolName: "p"})
	repo.CreateRun(&Run{RunKey: "second", Status: StatusFailed, PoolName: "p"})

	runs, err := repo.ListRuns()
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunKey != "second" {
		t.Errorf("expected newest first, got %s", runs[0].RunKey)
	}
}
