package suite

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fly-io/thinp-harness/pkg/blockdev"
	"github.com/fly-io/thinp-harness/pkg/devicemapper"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/retry"
)

// DefaultIterations is how many thins or snapshots the bulk creation
// scenarios provision.
const DefaultIterations = 1000

// ThinPoolParams are the standard pool settings every scenario starts from.
type ThinPoolParams struct {
	Name          string
	MetadataDev   string
	DataDev       string
	Size          uint64
	DataBlockSize uint64
	LowWaterMark  uint64
}

// ThinPool returns the standard pool target.
func (p ThinPoolParams) ThinPool() devicemapper.ThinPool {
	return devicemapper.ThinPool{
		Size:          p.Size,
		MetadataDev:   p.MetadataDev,
		DataDev:       p.DataDev,
		DataBlockSize: p.DataBlockSize,
		LowWaterMark:  p.LowWaterMark,
	}
}

// Env is what a scenario runs against.
type Env struct {
	Driver devicemapper.Driver
	// Tools wipes the metadata device before every activation.
	Tools *blockdev.Tools
	Pool  ThinPoolParams
	// Iterations bounds the bulk creation scenarios. Zero means
	// DefaultIterations.
	Iterations int
	// MetadataWipeSectors limits the metadata wipe; zero wipes the whole
	// device.
	MetadataWipeSectors uint64
	// RemoveRetry, when set, replaces the default removal policy.
	RemoveRetry *retry.Policy
	// WipeRetry, when set, replaces the default metadata wipe policy.
	WipeRetry *retry.Policy
}

func (e *Env) iterations() int {
	if e.Iterations <= 0 {
		return DefaultIterations
	}
	return e.Iterations
}

func (e *Env) options() []devicemapper.Option {
	if e.RemoveRetry == nil {
		return nil
	}
	return []devicemapper.Option{devicemapper.WithRemoveRetry(*e.RemoveRetry)}
}

// WithStandardPool activates the standard pool, runs fn and deactivates.
func (e *Env) WithStandardPool(ctx context.Context, fn func(*devicemapper.Pool) error) error {
	return e.WithTable(ctx, devicemapper.NewTable(e.Pool.ThinPool()), fn)
}

// WithTable resets the metadata device, activates table under the standard
// pool name, runs fn and deactivates.
func (e *Env) WithTable(ctx context.Context, table devicemapper.Table, fn func(*devicemapper.Pool) error) error {
	if err := e.ResetMetadata(ctx); err != nil {
		return err
	}
	return devicemapper.WithPool(ctx, e.Driver, e.Pool.Name, table, fn, e.options()...)
}

// ResetMetadata zeroes the head of the metadata device so the next
// activation formats a fresh pool. dm-thin keeps thin ids and the data
// block size in the metadata across a remove.
func (e *Env) ResetMetadata(ctx context.Context) error {
	dev := e.Pool.MetadataDev
	if e.Tools == nil {
		return fmt.Errorf("no device tools to wipe metadata device %s", dev)
	}
	policy := retry.Policy{Delay: retry.DefaultDelay}
	if e.WipeRetry != nil {
		policy = *e.WipeRetry
	}

	err := policy.Do(ctx, func() error {
		if e.MetadataWipeSectors > 0 {
			return e.Tools.WipeSectors(ctx, dev, e.MetadataWipeSectors)
		}
		return e.Tools.Wipe(ctx, dev)
	})
	if err != nil {
		slog.Error("metadata_wipe_failed", "device", dev, "error", err)
		return errors.Wrapf(err, "failed to wipe metadata device %s", dev)
	}
	slog.Debug("metadata_wiped", "device", dev)
	return nil
}

// AssertBadTable succeeds only when table is rejected by validation and the
// driver never sees a create.
func (e *Env) AssertBadTable(ctx context.Context, table devicemapper.Table) error {
	drv := &countingDriver{Driver: e.Driver}
	pool, err := devicemapper.Activate(ctx, drv, e.Pool.Name, table, e.options()...)
	if pool != nil {
		_ = pool.Deactivate(ctx)
		return fmt.Errorf("table %s was accepted", table)
	}
	if !devicemapper.IsInvalidParameters(err) {
		return fmt.Errorf("table %s: expected invalid parameters, got: %w", table, err)
	}
	if n := drv.creates.Load(); n != 0 {
		return fmt.Errorf("table %s reached the driver %d times", table, n)
	}
	return nil
}

type countingDriver struct {
	devicemapper.Driver
	creates atomic.Int64
}

func (d *countingDriver) Create(ctx context.Context, name, table string) error {
	d.creates.Add(1)
	return d.Driver.Create(ctx, name, table)
}
