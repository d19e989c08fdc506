//go:build linux
// +build linux

package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestDeviceCode_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.img")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DeviceCode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want path unchanged", got)
	}
}

func TestDeviceCode_CharDeviceIsNotBlock(t *testing.T) {
	got, err := DeviceCode("/dev/null")
	if err != nil {
		t.Skipf("/dev/null not available: %v", err)
	}
	if got != "/dev/null" {
		t.Errorf("got %q, want /dev/null unchanged", got)
	}
}

func TestDeviceCode_BlockDevice(t *testing.T) {
	const path = "/dev/loop0"
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFBLK {
		t.Skip("no loop block device available")
	}

	got, err := DeviceCode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "7:0" {
		t.Errorf("got %q, want 7:0", got)
	}
}

func TestDeviceCode_Missing(t *testing.T) {
	if _, err := DeviceCode(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}
