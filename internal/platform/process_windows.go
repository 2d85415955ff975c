//go:build windows

package platform

import (
	"os/exec"
	"strconv"
	"syscall"
)

const (
	createNoWindow  = 0x08000000
	TaskKillCommand = "taskkill"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow,
		HideWindow:    true,
	}
}

// signalGroup asks the tree to close; console tools without a window only
// honour the forced variant, which Stop escalates to.
func signalGroup(pid int) error {
	return taskkill(pid, false)
}

func killGroup(pid int) error {
	return taskkill(pid, true)
}

func taskkill(pid int, force bool) error {
	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if force {
		args = append(args, "/F")
	}
	cmd := exec.Command(TaskKillCommand, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNoWindow, HideWindow: true}
	return cmd.Run()
}
