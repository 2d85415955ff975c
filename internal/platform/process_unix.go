//go:build !windows

package platform

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func groupID(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}

func signalGroup(pid int) error {
	return syscall.Kill(-groupID(pid), syscall.SIGTERM)
}

func killGroup(pid int) error {
	return syscall.Kill(-groupID(pid), syscall.SIGKILL)
}
