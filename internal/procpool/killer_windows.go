//go:build windows

package procpool

import (
	"os/exec"
	"strconv"
)

// windowsKiller shells out to taskkill, the only reliable way to take down
// a process tree on Windows without walking handles by hand.
type windowsKiller struct{}

// NewKiller returns the platform killer backend.
func NewKiller() Killer { return windowsKiller{} }

func (windowsKiller) Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}
