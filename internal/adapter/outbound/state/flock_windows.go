//go:build windows

package state

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockExclusive blocks until f holds an exclusive lock on its first byte,
// the LockFileEx counterpart of flock(LOCK_EX).
func lockExclusive(f *os.File) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

func unlock(f *os.File) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &ol)
}
