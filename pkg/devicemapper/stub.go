//go:build !linux
// +build !linux

package devicemapper

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/fly-io/thinp-harness/pkg/process"
)

// NewDriver fails on non-Linux systems; device-mapper is Linux only.
func NewDriver(ctx context.Context, exec process.Executor, timeout time.Duration) (*Dmsetup, error) {
	return nil, fmt.Errorf("devicemapper not supported on %s", runtime.GOOS)
}
