//go:build unix

package node

import (
	"os"

	"golang.org/x/sys/unix"
)

// LockFile takes an exclusive advisory lock on f, blocking until it is
// free. Closing f releases it.
func LockFile(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}
