// Package process runs external commands with a timeout and classifies
// their failures. Every device operation in the harness (size queries,
// wiping, pattern verification, dmsetup) goes through a Runner.
package process

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/alessio/shellescape"
	"github.com/fly-io/thinp-harness/pkg/errors"
)

const (
	// DefaultTimeout applies when Run is called with a zero timeout.
	DefaultTimeout = 10 * time.Minute
	// DefaultWaitDelay bounds how long Run waits for output pipes to close
	// after the process group has been killed.
	DefaultWaitDelay = 5 * time.Second
)

// Result captures a single command invocation.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Executor runs a command and waits at most timeout for it to finish.
type Executor interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error)
}

// Runner is the Executor backed by os/exec.
type Runner struct {
	// DefaultTimeout replaces a zero timeout passed to Run.
	DefaultTimeout time.Duration
	// WaitDelay is passed to exec.Cmd.WaitDelay.
	WaitDelay time.Duration
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// NewRunner creates a Runner with the package defaults.
func NewRunner() *Runner {
	return &Runner{
		DefaultTimeout: DefaultTimeout,
		WaitDelay:      DefaultWaitDelay,
	}
}

// Run spawns name with args. It returns the captured result on success, a
// *ProcessError when the command exits non-zero or exceeds timeout, and a
// wrapped error when the command cannot be started or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	if timeout <= 0 {
		timeout = r.DefaultTimeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
	}
	line := CommandLine(name, args...)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	killProcessGroupOnCancel(cmd)

	slog.Debug("process_start", "command", line, "timeout", timeout)

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Command: line,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	if err == nil {
		slog.Debug("process_complete", "command", line, "elapsed", res.Elapsed)
		return res, nil
	}

	// Caller cancellation is not a timeout of this command.
	if ctx.Err() != nil {
		slog.Warn("process_cancelled", "command", line, "error", ctx.Err())
		return res, errors.Wrapf(ctx.Err(), "run %s", line)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		slog.Error("process_timeout", "command", line, "timeout", timeout, "elapsed", res.Elapsed)
		return res, newProcessError(KindTimeout, res, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		slog.Error("process_failed", "command", line, "exit_code", res.ExitCode, "stderr", truncate(res.Stderr, 512))
		return res, newProcessError(KindNonZeroExit, res, timeout)
	}

	slog.Error("process_start_failed", "command", line, "error", err)
	return nil, errors.Wrapf(err, "failed to run %s", line)
}

// CommandLine renders name and args as a shell-quoted command line for logs
// and error messages. Commands are never executed through a shell.
func CommandLine(name string, args ...string) string {
	return shellescape.QuoteCommand(append([]string{name}, args...))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
