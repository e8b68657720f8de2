//go:build windows

package runner

import "os/exec"

// applyProcessGroup is a no-op on Windows; process-tree termination falls
// back to killing the direct child only.
func applyProcessGroup(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) {}
