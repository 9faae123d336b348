//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

// processExists uses kill(pid, 0), which checks existence and permission without signalling.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func signalTerm(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
