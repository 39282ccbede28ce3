//go:build !windows

package daemon

import "golang.org/x/sys/unix"

// processAlive sends signal 0; EPERM still means the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
