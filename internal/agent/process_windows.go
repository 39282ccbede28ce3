//go:build windows

package agent

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// terminate has no graceful form on Windows.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
