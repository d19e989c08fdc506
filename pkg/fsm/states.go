package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fly-io/thinp-harness/pkg/db"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/security"
	"github.com/fly-io/thinp-harness/pkg/storage"
	"github.com/fly-io/thinp-harness/pkg/suite"
	"github.com/superfly/fsm"
)

// Uploader publishes a local file under key.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
}

// Config holds the FSM machine dependencies. Store may be nil, in which
// case reports are only written locally.
type Config struct {
	Repo      *db.Repository
	Store     Uploader
	Validator *security.Validator
	Env       *suite.Env
	Scenarios []suite.Scenario
	WorkDir    string
	MaxRetries int
}

// DefaultMaxRetries bounds how often a single state is retried.
const DefaultMaxRetries = 5

// Machine holds dependencies for FSM transitions
type Machine struct {
	cfg Config
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(cfg Config) *Machine {
	if cfg.Scenarios == nil {
		cfg.Scenarios = suite.Scenarios()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Machine{cfg: cfg}
}

// Report is the JSON document written for every run.
type Report struct {
	RunKey     string         `json:"run_key"`
	PoolName   string         `json:"pool_name"`
	Iterations int            `json:"iterations"`
	Status     string         `json:"status"`
	Summary    string         `json:"summary"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Results    []suite.Result `json:"results"`
}

func (m *Machine) checkRetries(ctx context.Context, runKey string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.cfg.MaxRetries) {
		slog.Error("max_retries_exceeded", "run_key", runKey, "max_retries", m.cfg.MaxRetries)
		return fmt.Errorf("max retries (%d) exceeded", m.cfg.MaxRetries)
	}
	return nil
}

// abort marks the run failed in the ledger and stops the FSM.
func (m *Machine) abort(resp *RunResponse, err error) error {
	if resp != nil {
		resp.Status = db.StatusFailed
		resp.ErrorMessage = err.Error()
		if resp.RunID != 0 {
			if uerr := m.cfg.Repo.UpdateRunStatus(resp.RunID, db.StatusFailed, err.Error()); uerr != nil {
				slog.Error("status_update_failed", "run_id", resp.RunID, "status", db.StatusFailed, "error", uerr)
			}
		}
	}
	return fsm.Abort(err)
}

// handleCheckLedger creates the run record, or picks up an existing one
// when the run is resumed
func (m *Machine) handleCheckLedger(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_check_ledger", "run_key", req.Msg.RunKey)

	resp := req.W.Msg
	if resp == nil {
		resp = &RunResponse{}
	}

	if err := m.checkRetries(ctx, req.Msg.RunKey); err != nil {
		return nil, m.abort(resp, err)
	}

	run, err := m.cfg.Repo.GetRunByKey(req.Msg.RunKey)
	if err != nil {
		slog.Error("database_check_failed", "run_key", req.Msg.RunKey, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "database error"))
	}

	if run != nil {
		if run.Status == db.StatusPassed || run.Status == db.StatusFailed {
			slog.Error("run_already_finished", "run_key", req.Msg.RunKey, "run_id", run.ID, "status", run.Status)
			return nil, fsm.Abort(fmt.Errorf("run %s already finished with status %s", run.RunKey, run.Status))
		}
		resp.RunID = run.ID
		if resp.StartedAt.IsZero() {
			resp.StartedAt = time.Now().UTC()
		}
		slog.Info("run_found_continue_processing", "run_key", req.Msg.RunKey, "run_id", run.ID, "status", run.Status)
		return fsm.NewResponse(resp), nil
	}

	run = &db.Run{
		RunKey:     req.Msg.RunKey,
		Status:     db.StatusPending,
		PoolName:   m.cfg.Env.Pool.Name,
		Filters:    describeFilters(req.Msg),
		Iterations: m.iterations(req.Msg),
	}
	if err := m.cfg.Repo.CreateRun(run); err != nil {
		slog.Error("create_run_failed", "run_key", req.Msg.RunKey, "error", err)
		return nil, errors.Wrap(err, "failed to create run record")
	}
	resp.RunID = run.ID
	resp.StartedAt = time.Now().UTC()
	slog.Info("run_created", "run_key", req.Msg.RunKey, "run_id", run.ID)

	return fsm.NewResponse(resp), nil
}

// handlePrepare guards the pool devices. The metadata device itself is
// wiped by the suite before every pool activation.
func (m *Machine) handlePrepare(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_prepare", "run_key", req.Msg.RunKey)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.checkRetries(ctx, req.Msg.RunKey); err != nil {
		return nil, m.abort(resp, err)
	}

	if err := m.cfg.Repo.UpdateRunStatus(resp.RunID, db.StatusRunning, ""); err != nil {
		slog.Error("status_update_failed", "run_id", resp.RunID, "status", db.StatusRunning, "error", err)
		return nil, errors.Wrap(err, "failed to update status")
	}

	pool := m.cfg.Env.Pool
	for _, dev := range []string{pool.MetadataDev, pool.DataDev} {
		if err := m.cfg.Validator.ValidateDevicePath(dev); err != nil {
			return nil, m.abort(resp, err)
		}
	}

	if m.cfg.Env.Tools == nil {
		return nil, m.abort(resp, fmt.Errorf("device tools not configured"))
	}

	slog.Info("devices_prepared", "run_key", req.Msg.RunKey, "metadata_dev", pool.MetadataDev, "data_dev", pool.DataDev)
	return fsm.NewResponse(resp), nil
}

// handleExecute runs the selected scenarios and records every outcome
func (m *Machine) handleExecute(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_execute", "run_key", req.Msg.RunKey)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.checkRetries(ctx, req.Msg.RunKey); err != nil {
		return nil, m.abort(resp, err)
	}

	filters, err := buildFilters(req.Msg)
	if err != nil {
		return nil, m.abort(resp, err)
	}

	env := *m.cfg.Env
	env.Iterations = m.iterations(req.Msg)
	results := suite.Run(ctx, &env, m.cfg.Scenarios, filters)

	rows := make([]db.ScenarioResult, 0, len(results.Tests))
	for _, r := range results.Tests {
		rows = append(rows, db.ScenarioResult{
			Name:         r.Name,
			Outcome:      string(r.Outcome),
			ErrorMessage: r.Error,
			DurationMS:   r.Duration.Milliseconds(),
		})
	}
	if err := m.cfg.Repo.AddResults(ctx, resp.RunID, rows); err != nil {
		return nil, errors.Wrap(err, "failed to record results")
	}

	resp.Results = results.Tests
	slog.Info("suite_executed", "run_key", req.Msg.RunKey, "summary", results.String())
	return fsm.NewResponse(resp), nil
}

// handleReport writes the JSON report and uploads it when storage is
// configured
func (m *Machine) handleReport(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_report", "run_key", req.Msg.RunKey)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.checkRetries(ctx, req.Msg.RunKey); err != nil {
		return nil, m.abort(resp, err)
	}

	results := suite.Results{Tests: resp.Results}
	report := Report{
		RunKey:     req.Msg.RunKey,
		PoolName:   m.cfg.Env.Pool.Name,
		Iterations: m.iterations(req.Msg),
		Status:     finalStatus(results),
		Summary:    results.String(),
		StartedAt:  resp.StartedAt,
		FinishedAt: time.Now().UTC(),
		Passed:     results.Count(suite.Passed),
		Failed:     results.Count(suite.Failed),
		Skipped:    results.Count(suite.Skipped),
		Results:    results.Tests,
	}

	reportDir := filepath.Join(m.cfg.WorkDir, "reports")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		slog.Error("report_dir_creation_failed", "path", reportDir, "error", err)
		return nil, errors.Wrap(err, "failed to create report dir")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to encode report"))
	}
	localPath := filepath.Join(reportDir, req.Msg.RunKey+".json")
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		slog.Error("report_write_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to write report")
	}
	resp.ReportPath = localPath
	slog.Info("report_written", "run_key", req.Msg.RunKey, "path", localPath)

	if m.cfg.Store == nil {
		slog.Info("report_upload_skipped", "run_key", req.Msg.RunKey, "reason", "storage_not_configured")
		return fsm.NewResponse(resp), nil
	}

	key := storage.ReportKey(req.Msg.RunKey)
	if err := m.cfg.Store.Upload(ctx, key, localPath); err != nil {
		slog.Error("report_upload_failed", "run_key", req.Msg.RunKey, "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to upload report")
	}
	resp.ReportKey = key

	return fsm.NewResponse(resp), nil
}

// handleComplete stores the final status in the ledger
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_complete", "run_key", req.Msg.RunKey)

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if err := m.checkRetries(ctx, req.Msg.RunKey); err != nil {
		return nil, m.abort(resp, err)
	}

	results := suite.Results{Tests: resp.Results}
	status := finalStatus(results)
	summary := db.Summary{
		Passed:  results.Count(suite.Passed),
		Failed:  results.Count(suite.Failed),
		Skipped: results.Count(suite.Skipped),
	}
	if err := m.cfg.Repo.FinishRun(ctx, resp.RunID, status, summary, resp.ReportKey); err != nil {
		slog.Error("finish_run_failed", "run_id", resp.RunID, "error", err)
		return nil, errors.Wrap(err, "failed to finish run")
	}
	resp.Status = status

	slog.Info("fsm_complete", "run_key", req.Msg.RunKey, "status", status, "summary", results.String())
	return fsm.NewResponse(resp), nil
}

func (m *Machine) iterations(req *RunRequest) int {
	if req.Iterations > 0 {
		return req.Iterations
	}
	if m.cfg.Env.Iterations > 0 {
		return m.cfg.Env.Iterations
	}
	return suite.DefaultIterations
}

func finalStatus(results suite.Results) string {
	if results.OK() {
		return db.StatusPassed
	}
	return db.StatusFailed
}

func buildFilters(req *RunRequest) (suite.RegexFilters, error) {
	var filters suite.RegexFilters
	for _, p := range req.Run {
		if err := filters.MustMatch.Set(p); err != nil {
			return filters, errors.Wrapf(err, "bad --run pattern %q", p)
		}
	}
	for _, p := range req.Skip {
		if err := filters.MustNotMatch.Set(p); err != nil {
			return filters, errors.Wrapf(err, "bad --skip pattern %q", p)
		}
	}
	return filters, nil
}

func describeFilters(req *RunRequest) string {
	filters, err := buildFilters(req)
	if err != nil {
		return strings.Join(slices.Concat(req.Run, req.Skip), " ")
	}
	return filters.Describe()
}
