//go:build unix

package launch

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals aimed at
// the dispatcher do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
