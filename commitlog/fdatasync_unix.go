//go:build linux

package commitlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes f's data (and only as much metadata as is needed to
// retrieve it) to stable storage, cheaper than File.Sync on Linux since it
// skips syncing file metadata that doesn't affect reading the data back.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
