//go:build windows

package daemon

import "os"

// processExists has no kill(pid, 0) equivalent here; a valid pid is assumed alive and a
// dead server shows up as a refused connection.
func processExists(pid int) bool {
	return pid > 0
}

// signalTerm kills the process; Windows has no SIGTERM.
func signalTerm(proc *os.Process) error {
	return proc.Kill()
}
