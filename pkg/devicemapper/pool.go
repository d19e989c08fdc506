package devicemapper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/retry"
)

// State is the lifecycle position of a table and the pool built from it.
type State int

const (
	// StateUnbuilt means the table has not passed validation.
	StateUnbuilt State = iota
	// StateValidated means the table passed validation but is not active.
	StateValidated
	// StateActive means the table is loaded in the kernel.
	StateActive
	// StateDeactivated means the mapping has been removed.
	StateDeactivated
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "Unbuilt"
	case StateValidated:
		return "Validated"
	case StateActive:
		return "Active"
	case StateDeactivated:
		return "Deactivated"
	default:
		return fmt.Sprintf("unknown %d", int(s))
	}
}

// Option configures Activate.
type Option func(*Pool)

// WithRemoveRetry sets the policy used when removing the mapping. The
// default retries once after retry.DefaultDelay, since a freshly used
// device is often briefly busy.
func WithRemoveRetry(p retry.Policy) Option {
	return func(pool *Pool) { pool.removeRetry = p }
}

// Pool is an activated table. It is not safe for concurrent use: messages
// are sent one at a time in the order the caller issues them.
type Pool struct {
	name        string
	table       Table
	driver      Driver
	state       State
	removeRetry retry.Policy
}

// Activate validates table and loads it under name. A table that fails
// validation is never passed to the driver. On any failure no Pool is
// returned and nothing needs to be deactivated.
func Activate(ctx context.Context, driver Driver, name string, table Table, opts ...Option) (*Pool, error) {
	slog.Info("pool_activate", "pool", name, "table", table.String())

	if err := table.Validate(); err != nil {
		slog.Error("table_validation_failed", "pool", name, "error", err)
		return nil, err
	}

	line, err := table.Format()
	if err != nil {
		slog.Error("table_format_failed", "pool", name, "error", err)
		return nil, errors.Wrap(err, "failed to render table")
	}

	if err := driver.Create(ctx, name, line); err != nil {
		slog.Error("pool_activation_failed", "pool", name, "error", err)
		return nil, errors.Wrapf(err, "failed to activate %s", name)
	}

	p := &Pool{
		name:        name,
		table:       table,
		driver:      driver,
		state:       StateActive,
		removeRetry: retry.Policy{Delay: retry.DefaultDelay},
	}
	for _, opt := range opts {
		opt(p)
	}

	slog.Info("pool_activated", "pool", name, "device_path", p.Path())
	return p, nil
}

// WithPool activates table, calls fn with the pool and deactivates it on
// every exit path, including a panic in fn. fn's error takes precedence
// over a deactivation error.
func WithPool(ctx context.Context, driver Driver, name string, table Table, fn func(*Pool) error, opts ...Option) (err error) {
	pool, err := Activate(ctx, driver, name, table, opts...)
	if err != nil {
		return err
	}

	defer func() {
		derr := pool.Deactivate(ctx)
		if derr == nil {
			return
		}
		if err != nil {
			slog.Error("pool_deactivate_after_error_failed", "pool", name, "error", derr, "cause", err)
			return
		}
		err = derr
	}()

	return fn(pool)
}

// Name returns the mapping name.
func (p *Pool) Name() string { return p.name }

// Path returns the /dev/mapper path of the pool.
func (p *Pool) Path() string { return DevicePath(p.name) }

// Table returns the table the pool was activated from.
func (p *Pool) Table() Table { return p.table }

// State returns StateActive until Deactivate succeeds.
func (p *Pool) State() State { return p.state }

// Message sends cmd to the pool at sector. Identifiers are not checked here;
// the driver is the authority and its rejection is returned as a
// *DriverError.
func (p *Pool) Message(ctx context.Context, sector uint64, cmd Command) error {
	if p.state != StateActive {
		return errors.Wrapf(ErrPoolNotActive, "pool %s is %s", p.name, p.state)
	}

	msg := cmd.String()
	if err := p.driver.Message(ctx, p.name, sector, msg); err != nil {
		return errors.Wrapf(err, "message %q to %s", msg, p.name)
	}
	return nil
}

// Deactivate removes the mapping. It is safe to call more than once. The
// removal runs even when ctx has been cancelled.
func (p *Pool) Deactivate(ctx context.Context) error {
	if p.state != StateActive {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	err := p.removeRetry.Do(ctx, func() error {
		return p.driver.Remove(ctx, p.name)
	})
	if err != nil {
		slog.Error("pool_deactivate_failed", "pool", p.name, "error", err)
		return errors.Wrapf(err, "failed to deactivate %s", p.name)
	}

	p.state = StateDeactivated
	slog.Info("pool_deactivated", "pool", p.name)
	return nil
}
