//go:build !unix

package worker

import (
	"os"
	"os/exec"
)

// Without process groups only the direct child can be signalled.
var (
	sigTerm = os.Kill
	sigKill = os.Kill
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(sig); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func killGroup(cmd *exec.Cmd) {
	_ = signalGroup(cmd, sigKill)
}
