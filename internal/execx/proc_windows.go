//go:build windows

package execx

import "os/exec"

func prepareProcessGroup(*exec.Cmd) {}

func interruptProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
