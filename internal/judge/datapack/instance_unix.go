//go:build unix

package datapack

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockInstance holds an exclusive lock on f until f is closed or the process exits.
func lockInstance(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// claimStale reports whether f's owner is gone.
func claimStale(f *os.File) bool {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB) == nil
}
