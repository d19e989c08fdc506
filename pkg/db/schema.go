package db

// Schema defines the SQLite schema of the run ledger: one row per suite run
// and one row per scenario executed in it.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_key TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'passed', 'failed')),
    pool_name TEXT NOT NULL,
    filters TEXT,
    iterations INTEGER NOT NULL DEFAULT 0,
    passed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    report_key TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS scenario_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('passed', 'failed', 'skipped')),
    error_message TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_scenario_results_run_id ON scenario_results(run_id);
`

// Status constants
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
)

// Run is one suite run record.
type Run struct {
	ID           int64
	RunKey       string
	Status       string
	PoolName     string
	Filters      string
	Iterations   int
	Passed       int
	Failed       int
	Skipped      int
	ReportKey    string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Summary is the scenario tally stored when a run finishes.
type Summary struct {
	Passed  int
	Failed  int
	Skipped int
}

// ScenarioResult is the outcome of one scenario in a run.
type ScenarioResult struct {
	ID           int64
	RunID        int64
	Name         string
	Outcome      string
	ErrorMessage string
	DurationMS   int64
	CreatedAt    string
}
