// Package processtest provides a recording process.Executor for tests.
package processtest

import (
	"context"
	"sync"
	"time"

	"github.com/fly-io/thinp-harness/pkg/process"
)

// Call is one recorded invocation.
type Call struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Line renders the call the same way process.Runner logs it.
func (c Call) Line() string {
	return process.CommandLine(c.Name, c.Args...)
}

// Recorder records every call and answers it with Handler. A nil Handler
// succeeds with empty output.
type Recorder struct {
	Handler func(call Call) (*process.Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run implements process.Executor.
func (r *Recorder) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*process.Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...), Timeout: timeout}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return &process.Result{Command: call.Line()}, nil
	}
	return handler(call)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the recorded calls rendered as command lines.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

// Stdout answers a call successfully with the given output.
func Stdout(call Call, out string) (*process.Result, error) {
	return &process.Result{Command: call.Line(), Stdout: out}, nil
}

// Exit answers a call with a non-zero exit status.
func Exit(call Call, code int, stderr string) (*process.Result, error) {
	res := &process.Result{Command: call.Line(), ExitCode: code, Stderr: stderr}
	return res, &process.ProcessError{
		Kind:     process.KindNonZeroExit,
		Command:  res.Command,
		ExitCode: code,
		Stderr:   stderr,
		Timeout:  call.Timeout,
	}
}
