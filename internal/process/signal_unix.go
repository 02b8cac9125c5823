//go:build unix

package process

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in its own process group so signals reach the
// helpers an encoder spawns.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

func interruptGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGINT)
}

func interruptProcess(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func signalAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
