package statestore

import (
	"errors"
	"os"
	"syscall"
)

// ProcessProbe answers whether a lock holder's process still exists.
// Injected so lock tests can simulate dead holders without spawning
// real processes.
type ProcessProbe interface {
	Alive(pid int) bool
}

// SystemProbe checks liveness via signal 0.
type SystemProbe struct{}

func (SystemProbe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 doesn't actually send anything, just checks if process exists.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
