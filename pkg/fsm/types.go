package fsm

import (
	"time"

	"github.com/fly-io/thinp-harness/pkg/suite"
)

// RunRequest is the FSM input
type RunRequest struct {
	RunKey string
	// Run and Skip are scenario name patterns, as given on the command line.
	Run        []string
	Skip       []string
	Iterations int
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	// From CheckLedger
	RunID     int64
	StartedAt time.Time

	// From Execute
	Results []suite.Result

	// From Report
	ReportPath string
	ReportKey  string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateCheckLedger = "check_ledger"
	StatePrepare     = "prepare"
	StateExecute     = "execute"
	StateReport      = "report"
	StateComplete    = "complete"
	StateFailed      = "failed"
)
