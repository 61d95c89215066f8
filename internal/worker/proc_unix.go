//go:build unix

package worker

import (
	"errors"
	"os/exec"
	"syscall"
)

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to every process in the child's group.
// The group id equals the child's pid because of Setpgid.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// killGroup sweeps descendants left behind once the leader has been reaped.
// An id is not recycled while any member lives, so an empty group is skipped.
// Reuse between the probe and the kill remains possible but narrow.
func killGroup(cmd *exec.Cmd) {
	if !groupExists(cmd) {
		return
	}
	_ = signalGroup(cmd, sigKill)
}

func groupExists(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return !errors.Is(syscall.Kill(-cmd.Process.Pid, 0), syscall.ESRCH)
}
