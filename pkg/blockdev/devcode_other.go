//go:build !linux
// +build !linux

package blockdev

import (
	"os"

	"github.com/fly-io/thinp-harness/pkg/errors"
)

// DeviceCode returns path unchanged; device numbers are only decoded on Linux.
func DeviceCode(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}
	return path, nil
}
