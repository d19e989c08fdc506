package devicemapper

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/process"
)

// DefaultCommandTimeout bounds a single dmsetup invocation.
const DefaultCommandTimeout = 30 * time.Second

// Dmsetup implements Driver by shelling out to dmsetup.
type Dmsetup struct {
	exec    process.Executor
	timeout time.Duration
}

func newDmsetup(exec process.Executor, timeout time.Duration) *Dmsetup {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Dmsetup{exec: exec, timeout: timeout}
}

// DevicePath returns the /dev/mapper path of name.
func DevicePath(name string) string {
	return filepath.Join(MapperDir, name)
}

func (d *Dmsetup) Create(ctx context.Context, name, table string) error {
	slog.Info("dmsetup_create", "device_name", name, "table", table)

	if _, err := d.exec.Run(ctx, d.timeout, "dmsetup", "create", name, "--table", table); err != nil {
		slog.Error("dmsetup_create_failed", "device_name", name, "error", err)
		return asDriverError("create", name, err)
	}
	return nil
}

func (d *Dmsetup) Remove(ctx context.Context, name string) error {
	slog.Info("dmsetup_remove", "device_name", name)

	if _, err := d.exec.Run(ctx, d.timeout, "dmsetup", "remove", name); err != nil {
		slog.Error("dmsetup_remove_failed", "device_name", name, "error", err)
		return asDriverError("remove", name, err)
	}
	return nil
}

func (d *Dmsetup) Message(ctx context.Context, name string, sector uint64, message string) error {
	devicePath := DevicePath(name)
	slog.Debug("dmsetup_message", "device_path", devicePath, "sector", sector, "message", message)

	_, err := d.exec.Run(ctx, d.timeout, "dmsetup", "message", devicePath, strconv.FormatUint(sector, 10), message)
	if err != nil {
		slog.Error("dmsetup_message_failed", "device_path", devicePath, "message", message, "error", err)
		return asDriverError("message", devicePath, err)
	}
	return nil
}

// asDriverError turns a failing dmsetup exit into a DriverError. Timeouts,
// start failures and cancellation are not driver rejections and keep their
// own type.
func asDriverError(op, device string, err error) error {
	var pe *process.ProcessError
	if errors.As(err, &pe) && pe.Kind == process.KindNonZeroExit {
		return &DriverError{Op: op, Device: device, Message: pe.Output(), Err: err}
	}
	return errors.Wrapf(err, "dmsetup %s %s", op, device)
}
