// Package suite holds the thin-pool creation scenarios and runs them one
// after another against a device-mapper driver.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Run executes every scenario selected by filters in order and records the
// outcome of each. A failing scenario does not stop the run; a cancelled
// ctx marks the remaining scenarios skipped.
func Run(ctx context.Context, env *Env, scenarios []Scenario, filters RegexFilters) Results {
	var results Results
	for _, s := range scenarios {
		if !filters.Match(s.Name) {
			slog.Debug("scenario_filtered", "scenario", s.Name)
			results.Tests = append(results.Tests, Result{Name: s.Name, Outcome: Skipped})
			continue
		}
		if ctx.Err() != nil {
			results.Tests = append(results.Tests, Result{Name: s.Name, Outcome: Skipped, Error: ctx.Err().Error()})
			continue
		}
		results.Tests = append(results.Tests, runOne(ctx, env, s))
	}

	slog.Info("suite_complete", "summary", results.String())
	return results
}

func runOne(ctx context.Context, env *Env, s Scenario) (res Result) {
	slog.Info("scenario_start", "scenario", s.Name)
	start := time.Now()
	res.Name = s.Name

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Outcome == Failed {
			slog.Error("scenario_failed", "scenario", s.Name, "duration", res.Duration, "error", res.Error)
			return
		}
		slog.Info("scenario_passed", "scenario", s.Name, "duration", res.Duration)
	}()

	if err := s.Run(ctx, env); err != nil {
		res.Outcome = Failed
		res.Error = err.Error()
		return res
	}
	res.Outcome = Passed
	return res
}
