//go:build linux

package security

import (
	"os/exec"
	"syscall"
)

// Plugins get their own process group so stray children die with them,
// and the kernel reaps the whole group if the gateway goes away.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
