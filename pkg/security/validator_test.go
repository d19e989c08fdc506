package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func scratchFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(p, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func mountsFile(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestValidateDevicePath(t *testing.T) {
	img := scratchFile(t)
	v := &Validator{MountsFile: mountsFile(t, "/dev/vda / ext4 rw,relatime 0 0")}

	tests := []struct {
		name      string
		path      string
		shouldErr bool
	}{
		{"regular file", img, false},
		{"relative path", "disk.img", true},
		{"unclean path", filepath.Dir(img) + "/../" + filepath.Base(filepath.Dir(img)) + "/disk.img", true},
		{"missing", filepath.Join(filepath.Dir(img), "missing"), true},
		{"directory", filepath.Dir(img), true},
		{"character device", "/dev/null", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDevicePath(tt.path)
			if tt.shouldErr && err == nil {
				t.Errorf("expected error for path: %s", tt.path)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error for path %s: %v", tt.path, err)
			}
			if err != nil {
				var se *Error
				if !errors.As(err, &se) {
					t.Errorf("expected *Error, got %T", err)
				}
			}
		})
	}
}

func TestValidateDevicePath_Mounted(t *testing.T) {
	img := scratchFile(t)
	v := &Validator{MountsFile: mountsFile(t,
		"proc /proc proc rw,nosuid 0 0",
		img+" /mnt/scratch ext4 rw 0 0",
	)}

	err := v.ValidateDevicePath(img)
	var se *Error
	if !errors.As(err, &se) || se.Reason != "device is mounted" {
		t.Fatalf("expected mounted rejection, got %v", err)
	}
}

func TestValidateDevicePath_NoMountTable(t *testing.T) {
	img := scratchFile(t)
	v := &Validator{MountsFile: filepath.Join(t.TempDir(), "absent")}

	if err := v.ValidateDevicePath(img); err != nil {
		t.Errorf("missing mount table should not reject: %v", err)
	}
}

func TestMountedIn(t *testing.T) {
	table := "/dev/mapper/root / xfs rw 0 0\n\nmalformed\n/dev/vdb1 /data ext4 rw 0 0\n"

	tests := []struct {
		path     string
		resolved string
		want     bool
	}{
		{"/dev/vdb1", "/dev/vdb1", true},
		{"/dev/vdb", "/dev/vdb", false},
		{"/dev/disk/by-label/root", "/dev/mapper/root", true},
	}
	for _, tt := range tests {
		got, err := mountedIn(strings.NewReader(table), tt.path, tt.resolved)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s: mounted = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestValidateDevicePath_SystemMountTable(t *testing.T) {
	if _, err := os.Stat("/proc/self/mounts"); err != nil {
		t.Skip("no mount table on this system")
	}
	img := scratchFile(t)

	if err := NewValidator().ValidateDevicePath(img); err != nil {
		t.Errorf("unmounted scratch file rejected: %v", err)
	}
}
