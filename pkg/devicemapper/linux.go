//go:build linux
// +build linux

package devicemapper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/process"
)

// NewDriver returns a dmsetup-backed Driver after checking that dmsetup can
// reach the kernel driver, which requires root privileges.
func NewDriver(ctx context.Context, exec process.Executor, timeout time.Duration) (*Dmsetup, error) {
	slog.Info("devicemapper_init", "platform", "linux")

	d := newDmsetup(exec, timeout)
	res, err := exec.Run(ctx, d.timeout, "dmsetup", "version")
	if err != nil {
		slog.Error("devicemapper_unavailable", "error", err)
		return nil, errors.Wrap(err, "dmsetup cannot reach the device-mapper driver (root required)")
	}

	slog.Info("devicemapper_ready", "version", strings.TrimSpace(res.Stdout))
	return d, nil
}
