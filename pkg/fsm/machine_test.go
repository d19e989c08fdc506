package fsm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fly-io/thinp-harness/pkg/blockdev"
	"github.com/fly-io/thinp-harness/pkg/db"
	"github.com/fly-io/thinp-harness/pkg/devicemapper"
	"github.com/fly-io/thinp-harness/pkg/devicemapper/dmtest"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/process"
	"github.com/fly-io/thinp-harness/pkg/process/processtest"
	"github.com/fly-io/thinp-harness/pkg/retry"
	"github.com/fly-io/thinp-harness/pkg/security"
	"github.com/fly-io/thinp-harness/pkg/suite"
	"github.com/superfly/fsm"
)

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) Upload(ctx context.Context, key, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	return u.err
}

type harness struct {
	machine *Machine
	driver  *dmtest.Fake
	repo    *db.Repository
	exec    *processtest.Recorder
	store   *fakeUploader
	workDir string
}

func newHarness(t *testing.T, scenarios []suite.Scenario) *harness {
	t.Helper()
	dir := t.TempDir()

	repo, err := db.NewRepository(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	meta := filepath.Join(dir, "meta")
	data := filepath.Join(dir, "data")
	for _, p := range []string{meta, data} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mounts := filepath.Join(dir, "mounts")
	if err := os.WriteFile(mounts, []byte("/dev/vda / ext4 rw 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	driver := &dmtest.Fake{}
	exec := driver.Wiper(8192)
	store := &fakeUploader{}
	workDir := filepath.Join(dir, "work")

	m := NewMachine(Config{
		Repo:      repo,
		Store:     store,
		Validator: &security.Validator{MountsFile: mounts},
		Env: &suite.Env{
			Driver: driver,
			Tools:  blockdev.New(exec, 0),
			Pool: suite.ThinPoolParams{
				Name:          "test-pool",
				MetadataDev:   meta,
				DataDev:       data,
				Size:          20971520,
				DataBlockSize: 128,
				LowWaterMark:  8,
			},
			RemoveRetry: &retry.Policy{Delay: time.Millisecond},
			WipeRetry:   &retry.Policy{Delay: time.Millisecond},
		},
		Scenarios:  scenarios,
		WorkDir:    workDir,
		MaxRetries: 3,
	})
	return &harness{machine: m, driver: driver, repo: repo, exec: exec, store: store, workDir: workDir}
}

// activate is a scenario that brings the standard pool up and down.
var activate = suite.Scenario{
	Name: "activate",
	Run: func(ctx context.Context, env *suite.Env) error {
		return env.WithStandardPool(ctx, func(*devicemapper.Pool) error { return nil })
	},
}

type handler func(context.Context, *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error)

// drive runs the transitions in order, stopping at the first error.
func (h *harness) drive(req *RunRequest, resp *RunResponse) error {
	m := h.machine
	for _, fn := range []handler{m.handleCheckLedger, m.handlePrepare, m.handleExecute, m.handleReport, m.handleComplete} {
		if _, err := fn(context.Background(), fsm.NewRequest(req, resp)); err != nil {
			return err
		}
	}
	return nil
}

func TestRun_PassingSuite(t *testing.T) {
	h := newHarness(t, nil)
	req := &RunRequest{RunKey: "run-1", Run: []string{"dev_t", "thin_then_snap"}, Iterations: 5}
	resp := &RunResponse{}

	if err := h.drive(req, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != db.StatusPassed {
		t.Errorf("status = %s", resp.Status)
	}

	run, err := h.repo.GetRunByKey("run-1")
	if err != nil || run == nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != db.StatusPassed || run.Passed != 3 || run.Failed != 0 {
		t.Errorf("unexpected ledger row: %+v", run)
	}
	if run.Iterations != 5 {
		t.Errorf("iterations = %d", run.Iterations)
	}
	if run.ReportKey != "reports/run-1.json" {
		t.Errorf("report key = %q", run.ReportKey)
	}

	results, _ := h.repo.ListResults(run.ID)
	if len(results) != len(suite.Scenarios()) {
		t.Errorf("recorded %d results, want %d", len(results), len(suite.Scenarios()))
	}

	raw, err := os.ReadFile(resp.ReportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	if report.Status != db.StatusPassed || report.Summary != "3 passed, 0 failed, 7 skipped" {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Passed != 3 || report.Skipped != 7 || len(report.Results) != 10 {
		t.Errorf("unexpected report counts: %+v", report)
	}
	if report.StartedAt.IsZero() || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("unexpected report times: %s .. %s", report.StartedAt, report.FinishedAt)
	}
	if len(h.store.keys) != 1 || h.store.keys[0] != "reports/run-1.json" {
		t.Errorf("uploads = %v", h.store.keys)
	}
}

func TestRun_WipesMetadataBeforeEveryActivation(t *testing.T) {
	second := activate
	second.Name = "activate_again"
	h := newHarness(t, []suite.Scenario{activate, second})

	if err := h.drive(&RunRequest{RunKey: "run-1"}, &RunResponse{}); err != nil {
		t.Fatal(err)
	}

	lines := h.exec.Lines()
	if len(lines) != 4 {
		t.Fatalf("commands = %q", lines)
	}
	for i := 0; i < len(lines); i += 2 {
		if !strings.HasPrefix(lines[i], "blockdev --getsize ") {
			t.Errorf("command %d = %q", i, lines[i])
		}
		if !strings.HasPrefix(lines[i+1], "dd if=/dev/zero of=") || !strings.Contains(lines[i+1], "bs=4194304 count=1") {
			t.Errorf("wipe command = %q", lines[i+1])
		}
	}
	if len(h.driver.Creates()) != 2 {
		t.Errorf("creates = %q", h.driver.Creates())
	}
}

func TestRun_FullSuiteOnOneMetadataDevice(t *testing.T) {
	h := newHarness(t, nil)
	resp := &RunResponse{}

	if err := h.drive(&RunRequest{RunKey: "run-1", Iterations: 5}, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != db.StatusPassed {
		for _, r := range resp.Results {
			if r.Outcome == suite.Failed {
				t.Errorf("%s: %s", r.Name, r.Error)
			}
		}
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestRun_FailingScenarioMarksRunFailed(t *testing.T) {
	h := newHarness(t, []suite.Scenario{
		{Name: "ok", Run: func(context.Context, *suite.Env) error { return nil }},
		{Name: "broken", Run: func(context.Context, *suite.Env) error { return errors.New("dm message rejected") }},
	})
	resp := &RunResponse{}

	if err := h.drive(&RunRequest{RunKey: "run-1"}, resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != db.StatusFailed {
		t.Errorf("status = %s", resp.Status)
	}
	run, _ := h.repo.GetRunByKey("run-1")
	if run.Status != db.StatusFailed || run.Failed != 1 || run.Passed != 1 {
		t.Errorf("unexpected ledger row: %+v", run)
	}
}

func TestRun_GuardAbortsAndMarksFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.machine.cfg.Env.Pool.MetadataDev = "relative/meta"
	resp := &RunResponse{}

	err := h.drive(&RunRequest{RunKey: "run-1"}, resp)
	if err == nil {
		t.Fatal("expected abort")
	}
	if len(h.exec.Calls()) != 0 {
		t.Errorf("commands issued despite guard: %q", h.exec.Lines())
	}
	run, _ := h.repo.GetRunByKey("run-1")
	if run.Status != db.StatusFailed || run.ErrorMessage == "" {
		t.Errorf("unexpected ledger row: %+v", run)
	}
}

func TestRun_WipeRetriedOnce(t *testing.T) {
	h := newHarness(t, []suite.Scenario{activate})
	base := h.driver.WipeHandler(8192)
	attempts := 0
	h.exec.Handler = func(call processtest.Call) (*process.Result, error) {
		if call.Name == "dd" {
			attempts++
			if attempts == 1 {
				return processtest.Exit(call, 1, "dd: Device or resource busy")
			}
		}
		return base(call)
	}
	resp := &RunResponse{}

	if err := h.drive(&RunRequest{RunKey: "run-1"}, resp); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("dd attempts = %d, want 2", attempts)
	}
	if resp.Status != db.StatusPassed {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestMachine_RunsUnderManager(t *testing.T) {
	h := newHarness(t, []suite.Scenario{activate})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager, err := fsm.New(fsm.Config{DBPath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer manager.Shutdown(5 * time.Second)

	start, _, err := h.machine.Register(ctx, manager)
	if err != nil {
		t.Fatal(err)
	}
	version, err := start(ctx, "run-1", fsm.NewRequest(&RunRequest{RunKey: "run-1"}, &RunResponse{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Wait(ctx, version); err != nil {
		t.Fatalf("wait: %v", err)
	}

	run, err := h.repo.GetRunByKey("run-1")
	if err != nil || run == nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != db.StatusPassed || run.Passed != 1 {
		t.Errorf("unexpected ledger row: %+v", run)
	}
	if run.ReportKey != "reports/run-1.json" {
		t.Errorf("report key = %q", run.ReportKey)
	}
	if len(h.driver.Creates()) != 1 || h.driver.Active("test-pool") {
		t.Errorf("creates = %q, active = %v", h.driver.Creates(), h.driver.Active("test-pool"))
	}
}

func TestRun_BadPatternAborts(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.drive(&RunRequest{RunKey: "run-1", Skip: []string{"("}}, &RunResponse{}); err == nil {
		t.Fatal("expected abort for invalid pattern")
	}
	run, _ := h.repo.GetRunByKey("run-1")
	if run.Status != db.StatusFailed {
		t.Errorf("status = %s", run.Status)
	}
}

func TestCheckLedger_FinishedRunNotRepeated(t *testing.T) {
	h := newHarness(t, []suite.Scenario{{Name: "noop", Run: func(context.Context, *suite.Env) error { return nil }}})
	if err := h.drive(&RunRequest{RunKey: "run-1"}, &RunResponse{}); err != nil {
		t.Fatal(err)
	}

	_, err := h.machine.handleCheckLedger(context.Background(), fsm.NewRequest(&RunRequest{RunKey: "run-1"}, &RunResponse{}))
	if err == nil {
		t.Error("expected finished run to be refused")
	}
}

func TestReport_NoStore(t *testing.T) {
	h := newHarness(t, []suite.Scenario{{Name: "noop", Run: func(context.Context, *suite.Env) error { return nil }}})
	h.machine.cfg.Store = nil
	resp := &RunResponse{}

	if err := h.drive(&RunRequest{RunKey: "run-1"}, resp); err != nil {
		t.Fatal(err)
	}
	if resp.ReportKey != "" {
		t.Errorf("report key = %q without storage", resp.ReportKey)
	}
	if _, err := os.Stat(filepath.Join(h.workDir, "reports", "run-1.json")); err != nil {
		t.Errorf("local report missing: %v", err)
	}
}
