//go:build windows

package procpool

import "os/exec"

// detachProcessGroup is a no-op on Windows: taskkill /T walks the tree by
// parent PID, no process-group setup is required.
func detachProcessGroup(cmd *exec.Cmd) {}
