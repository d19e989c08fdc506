package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fly-io/thinp-harness/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository is the run ledger.
type Repository struct {
	db *sql.DB
}

// NewRepository opens dbPath and creates the schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateRun inserts a new run record and sets its ID
func (r *Repository) CreateRun(run *Run) error {
	slog.Info("database_create_run", "run_key", run.RunKey, "status", run.Status)

	query := `
		INSERT INTO runs (run_key, status, pool_name, filters, iterations, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.RunKey, run.Status, run.PoolName, run.Filters, run.Iterations, run.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_key", run.RunKey, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "run_key", run.RunKey, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id

	slog.Info("database_run_created", "run_key", run.RunKey, "run_id", run.ID)
	return nil
}

const runColumns = `id, run_key, status, pool_name, filters, iterations, passed, failed, skipped,
		       report_key, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var filters, reportKey, errorMessage sql.NullString
	err := row.Scan(
		&run.ID, &run.RunKey, &run.Status, &run.PoolName, &filters, &run.Iterations,
		&run.Passed, &run.Failed, &run.Skipped,
		&reportKey, &errorMessage, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Filters = filters.String
	run.ReportKey = reportKey.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

// GetRunByKey retrieves a run by its key. It returns nil, nil when there is
// no such run.
func (r *Repository) GetRunByKey(runKey string) (*Run, error) {
	slog.Debug("database_query_run", "run_key", runKey)

	row := r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_key = ?`, runKey)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_key", runKey)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_key", runKey, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// UpdateRunStatus updates the status and error message of a run
func (r *Repository) UpdateRunStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := r.db.Exec(query, status, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return requireRow(result, id)
}

// FinishRun stores the final status, tally and report key of a run.
func (r *Repository) FinishRun(ctx context.Context, id int64, status string, summary Summary, reportKey string) error {
	slog.Info("database_finish_run", "run_id", id, "status", status,
		"passed", summary.Passed, "failed", summary.Failed, "skipped", summary.Skipped)

	query := `
		UPDATE runs
		SET status = ?, passed = ?, failed = ?, skipped = ?, report_key = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		status, summary.Passed, summary.Failed, summary.Skipped, reportKey, id)
	if err != nil {
		slog.Error("database_finish_run_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to finish run")
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", id)
		return fmt.Errorf("run not found: id=%d", id)
	}
	return nil
}

// ListRuns retrieves all runs, newest first
func (r *Repository) ListRuns() ([]*Run, error) {
	slog.Debug("database_list_runs")

	rows, err := r.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "run_count", len(runs))
	return runs, nil
}

// AddResults records the scenario outcomes of a run in one transaction.
// Re-recording a scenario replaces its previous outcome.
func (r *Repository) AddResults(ctx context.Context, runID int64, results []ScenarioResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO scenario_results (run_id, name, outcome, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET
		    outcome = excluded.outcome,
		    error_message = excluded.error_message,
		    duration_ms = excluded.duration_ms
	`
	for _, res := range results {
		if _, err := tx.ExecContext(ctx, query, runID, res.Name, res.Outcome, res.ErrorMessage, res.DurationMS); err != nil {
			slog.Error("database_insert_result_failed", "run_id", runID, "scenario", res.Name, "error", err)
			return errors.Wrapf(err, "failed to record %s", res.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_results_recorded", "run_id", runID, "count", len(results))
	return nil
}

// AddResult records a single scenario outcome.
func (r *Repository) AddResult(ctx context.Context, res *ScenarioResult) error {
	return r.AddResults(ctx, res.RunID, []ScenarioResult{*res})
}

// ListResults retrieves the scenario outcomes of a run in name order
func (r *Repository) ListResults(runID int64) ([]*ScenarioResult, error) {
	query := `
		SELECT id, run_id, name, outcome, error_message, duration_ms, created_at
		FROM scenario_results WHERE run_id = ? ORDER BY name
	`
	rows, err := r.db.Query(query, runID)
	if err != nil {
		slog.Error("database_list_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to list results")
	}
	defer rows.Close()

	var results []*ScenarioResult
	for rows.Next() {
		var res ScenarioResult
		var errorMessage sql.NullString
		if err := rows.Scan(&res.ID, &res.RunID, &res.Name, &res.Outcome, &errorMessage, &res.DurationMS, &res.CreatedAt); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		res.ErrorMessage = errorMessage.String
		results = append(results, &res)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}
	return results, nil
}
