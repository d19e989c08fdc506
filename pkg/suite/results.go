package suite

import (
	"fmt"
	"time"
)

// Outcome of one scenario.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// Result records a single scenario execution.
type Result struct {
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Results is the outcome of a suite run, in execution order.
type Results struct {
	Tests []Result `json:"tests"`
}

// OK is true when no scenario failed.
func (r Results) OK() bool {
	return len(r.Failures()) == 0
}

// Failures returns the failed scenarios.
func (r Results) Failures() []Result {
	var out []Result
	for _, t := range r.Tests {
		if t.Outcome == Failed {
			out = append(out, t)
		}
	}
	return out
}

// Count returns how many scenarios ended with outcome o.
func (r Results) Count(o Outcome) int {
	n := 0
	for _, t := range r.Tests {
		if t.Outcome == o {
			n++
		}
	}
	return n
}

func (r Results) String() string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped",
		r.Count(Passed), r.Count(Failed), r.Count(Skipped))
}
