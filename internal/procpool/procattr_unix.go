//go:build !windows

package procpool

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup puts the worker in its own process group so the
// unix Killer can signal the group without touching the server's own.
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
