//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive blocks until f holds an exclusive advisory lock. Appenders
// hold it for the duration of the write so concurrent appends serialize at
// line granularity.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// lockShared takes a shared advisory lock without blocking. Readers that
// fail to acquire it continue unlocked.
func lockShared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
