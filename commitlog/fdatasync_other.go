//go:build !linux

package commitlog

import "os"

// fdatasync falls back to a full File.Sync on platforms without a distinct
// fdatasync syscall (Darwin, Windows, ...).
func fdatasync(f *os.File) error {
	return f.Sync()
}
