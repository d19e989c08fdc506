//go:build !linux
// +build !linux

package process

import "os/exec"

// killProcessGroupOnCancel keeps the exec.CommandContext default of killing
// only the immediate child.
func killProcessGroupOnCancel(cmd *exec.Cmd) {}
