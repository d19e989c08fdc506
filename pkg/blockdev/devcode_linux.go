//go:build linux
// +build linux

package blockdev

import (
	"fmt"

	"github.com/fly-io/thinp-harness/pkg/errors"
	"golang.org/x/sys/unix"
)

// DeviceCode returns "major:minor" for a block special file and path
// unchanged for anything else. Device-mapper tables accept either form.
func DeviceCode(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return path, nil
	}
	rdev := uint64(st.Rdev)
	return fmt.Sprintf("%d:%d", unix.Major(rdev), unix.Minor(rdev)), nil
}
