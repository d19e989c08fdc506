// Package fsm drives a suite run through the superfly/fsm state machine:
// record the run in the ledger, prepare the pool devices, execute the
// scenarios, publish the report and store the final status.
package fsm

import (
	"context"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/superfly/fsm"
)

// MachineName identifies the suite run FSM in the fsm database.
const MachineName = "suite-run"

// Register registers the suite run FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, MachineName).
		Start(StateCheckLedger, m.handleCheckLedger).
		To(StatePrepare, m.handlePrepare).
		To(StateExecute, m.handleExecute).
		To(StateReport, m.handleReport).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
