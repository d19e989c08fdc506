// Package security guards destructive device I/O. Wiping and pattern
// verification overwrite whatever they are pointed at, so every target path
// is checked before dd or dt run.
package security

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Error is a rejected target path.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("security: refusing %s: %s", e.Path, e.Reason)
}

// Validator checks device paths before they are written to.
type Validator struct {
	// MountsFile, when set, is read in /proc/self/mounts format instead of
	// asking the system for its partitions. A missing file is treated as
	// "nothing mounted".
	MountsFile string
}

// NewValidator creates a Validator backed by the system mount table.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDevicePath accepts path when it is absolute and clean, exists, is
// a block device or a regular file, and is not the source of any mount.
func (v *Validator) ValidateDevicePath(path string) error {
	if !filepath.IsAbs(path) {
		return v.reject(path, "path must be absolute")
	}
	if filepath.Clean(path) != path {
		return v.reject(path, "path is not clean")
	}

	info, err := os.Stat(path)
	if err != nil {
		return v.reject(path, "cannot stat: "+err.Error())
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0:
	default:
		return v.reject(path, "not a block device or regular file")
	}

	mounted, err := v.mounted(path)
	if err != nil {
		return v.reject(path, "cannot read mount table: "+err.Error())
	}
	if mounted {
		return v.reject(path, "device is mounted")
	}

	slog.Debug("security_device_validated", "path", path)
	return nil
}

func (v *Validator) reject(path, reason string) error {
	slog.Error("security_device_validation_failed", "path", path, "reason", reason)
	return &Error{Path: path, Reason: reason}
}

func (v *Validator) mounted(path string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	if v.MountsFile == "" {
		partitions, err := disk.Partitions(true)
		if err != nil {
			return false, err
		}
		for _, p := range partitions {
			if p.Device == path || p.Device == resolved {
				return true, nil
			}
		}
		return false, nil
	}

	f, err := os.Open(v.MountsFile)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	return mountedIn(f, path, resolved)
}

// mountedIn scans a mounts table for a line whose source is path or
// resolved.
func mountedIn(r io.Reader, path, resolved string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if src := fields[0]; src == path || src == resolved {
			return true, nil
		}
	}
	return false, scanner.Err()
}
