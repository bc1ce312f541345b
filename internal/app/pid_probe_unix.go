//go:build !windows

package app

import (
	"errors"
	"syscall"
)

// pidAlive sends the null signal to pid. EPERM still means the process
// exists, it just belongs to another user.
func pidAlive(pid int) bool {
	switch err := syscall.Kill(pid, 0); {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		return true
	default:
		return false
	}
}
