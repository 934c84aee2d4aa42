//go:build !unix

package node

import "os"

// LockFile is a no-op where flock is unavailable.
func LockFile(f *os.File) error {
	return nil
}
