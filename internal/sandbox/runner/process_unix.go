//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// applyProcessGroup puts the child in its own process group so the whole
// tree it may spawn can be killed together on timeout.
func applyProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the process group, catching children the
// child itself spawned.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
