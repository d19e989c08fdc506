package process

import (
	"fmt"
	"strings"
	"time"

	"github.com/fly-io/thinp-harness/pkg/errors"
)

// Kind classifies a ProcessError.
type Kind int

const (
	// KindNonZeroExit means the command ran to completion with a failing status.
	KindNonZeroExit Kind = iota + 1
	// KindTimeout means the command was killed after exceeding its timeout.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNonZeroExit:
		return "non_zero_exit"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown %d", int(k))
	}
}

// ProcessError is returned by Runner.Run when a command fails. It always
// carries whatever output was captured before the failure.
type ProcessError struct {
	Kind     Kind
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Timeout  time.Duration
	Elapsed  time.Duration
}

func newProcessError(kind Kind, res *Result, timeout time.Duration) *ProcessError {
	return &ProcessError{
		Kind:     kind,
		Command:  res.Command,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Timeout:  timeout,
		Elapsed:  res.Elapsed,
	}
}

func (e *ProcessError) Error() string {
	if e.Kind == KindTimeout {
		return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
	}
	msg := fmt.Sprintf("command exited with status %d: %s", e.ExitCode, e.Command)
	if out := e.Output(); out != "" {
		msg += ": " + out
	}
	return msg
}

// Output returns stderr followed by stdout, trimmed.
func (e *ProcessError) Output() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// IsTimeout reports whether err is a ProcessError of KindTimeout.
func IsTimeout(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Kind == KindTimeout
}

// ExitCode returns the exit status carried by a non-zero-exit ProcessError.
func ExitCode(err error) (int, bool) {
	var pe *ProcessError
	if errors.As(err, &pe) && pe.Kind == KindNonZeroExit {
		return pe.ExitCode, true
	}
	return 0, false
}
