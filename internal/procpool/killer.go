package procpool

import "os/exec"

// Killer terminates a worker process together with any children it spawned.
// Two backends share this interface because the kill mechanics are
// fundamentally OS-specific: Windows has no process-group signal, POSIX
// has no equivalent of taskkill's tree flag.
type Killer interface {
	Kill(cmd *exec.Cmd) error
}
