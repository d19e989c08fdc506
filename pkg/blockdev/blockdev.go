// Package blockdev wraps the external tools used to inspect and prepare
// block devices: blockdev for size queries, dd for zero wiping and dt for
// pattern I/O verification.
package blockdev

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/process"
)

const (
	// SectorSize is the unit every size in this package is expressed in.
	SectorSize = 512
	// WipeChunkSectors is the block size of the bulk wipe phase (64 MiB).
	WipeChunkSectors = 2048 * 64
	// SizeQueryTimeout bounds a single blockdev size query.
	SizeQueryTimeout = 102400 * time.Millisecond
	// DefaultPattern identifies data written by PatternIO.
	DefaultPattern = "iot"
	// PatternBlockSize is the dt transfer size.
	PatternBlockSize = "4M"
)

// IOType selects the dt access pattern.
type IOType string

const (
	IORandom     IOType = "random"
	IOSequential IOType = "sequential"
)

// Tools runs device utilities through an Executor.
type Tools struct {
	exec    process.Executor
	timeout time.Duration
}

// New creates Tools. timeout applies to wipe and pattern commands; zero
// leaves the executor's default in place.
func New(exec process.Executor, timeout time.Duration) *Tools {
	return &Tools{exec: exec, timeout: timeout}
}

// Size returns the size of path in sectors.
func (t *Tools) Size(ctx context.Context, path string) (uint64, error) {
	res, err := t.exec.Run(ctx, SizeQueryTimeout, "blockdev", "--getsize", path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to query size of %s", path)
	}

	raw := strings.TrimSpace(res.Stdout)
	sectors, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		slog.Error("device_size_parse_failed", "path", path, "output", raw, "error", err)
		return 0, errors.Wrapf(err, "unexpected size output for %s", path)
	}

	slog.Debug("device_size", "path", path, "sectors", sectors)
	return sectors, nil
}

// Wipe zero-fills the whole of path.
func (t *Tools) Wipe(ctx context.Context, path string) error {
	size, err := t.Size(ctx, path)
	if err != nil {
		return err
	}
	return t.wipe(ctx, path, size)
}

// WipeSectors zero-fills the first min(sectors, size of path) sectors.
func (t *Tools) WipeSectors(ctx context.Context, path string, sectors uint64) error {
	size, err := t.Size(ctx, path)
	if err != nil {
		return err
	}
	return t.wipe(ctx, path, min(sectors, size))
}

// wipe issues one dd for the whole 64 MiB chunks and, when the request is not
// chunk aligned, exactly one more dd sized to the remainder and seeking past
// the bulk phase. dd needs a single block size per invocation.
func (t *Tools) wipe(ctx context.Context, path string, sectors uint64) error {
	count := sectors / WipeChunkSectors
	remainder := sectors % WipeChunkSectors

	slog.Info("wipe_device", "path", path, "sectors", sectors, "chunks", count, "remainder", remainder)

	if count > 0 {
		_, err := t.exec.Run(ctx, t.timeout, "dd",
			"if=/dev/zero",
			"of="+path,
			"oflag=direct",
			"bs="+strconv.FormatUint(WipeChunkSectors*SectorSize, 10),
			"count="+strconv.FormatUint(count, 10))
		if err != nil {
			return errors.Wrapf(err, "failed to wipe %s", path)
		}
	}

	if remainder > 0 {
		offset := count * WipeChunkSectors * SectorSize
		_, err := t.exec.Run(ctx, t.timeout, "dd",
			"if=/dev/zero",
			"of="+path,
			"oflag=direct,seek_bytes",
			"bs="+strconv.FormatUint(remainder*SectorSize, 10),
			"count=1",
			"seek="+strconv.FormatUint(offset, 10))
		if err != nil {
			return errors.Wrapf(err, "failed to wipe tail of %s", path)
		}
	}

	slog.Info("wipe_complete", "path", path, "sectors", sectors)
	return nil
}

// PatternOptions configures PatternIO. The zero value writes DefaultPattern
// over the whole device using random I/O.
type PatternOptions struct {
	Mode    IOType
	Pattern string
	// Sectors limits the verified capacity; zero means the device size.
	Sectors uint64
}

// PatternIO runs a single dt pass over path.
func (t *Tools) PatternIO(ctx context.Context, path string, opts PatternOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = IORandom
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	sectors := opts.Sectors
	if sectors == 0 {
		size, err := t.Size(ctx, path)
		if err != nil {
			return err
		}
		sectors = size
	}

	slog.Info("pattern_io", "path", path, "sectors", sectors, "pattern", pattern, "iotype", mode)

	_, err := t.exec.Run(ctx, t.timeout, "dt",
		"of="+path,
		"capacity="+strconv.FormatUint(sectors*SectorSize, 10),
		"pattern="+pattern,
		"passes=1",
		"iotype="+string(mode),
		"bs="+PatternBlockSize)
	if err != nil {
		return errors.Wrapf(err, "pattern verification failed on %s", path)
	}
	return nil
}

// RoundUp rounds n up to the next multiple of d. An aligned n still
// advances by a full d.
func RoundUp(n, d uint64) uint64 {
	n += d
	return n - n%d
}

// RoundDown rounds n down to a multiple of d.
func RoundDown(n, d uint64) uint64 {
	return RoundUp(n, d) - d
}
