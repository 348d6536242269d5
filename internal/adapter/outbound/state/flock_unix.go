//go:build !windows

package state

import (
	"os"
	"syscall"
)

// lockExclusive blocks until f holds an exclusive advisory lock.
func lockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
