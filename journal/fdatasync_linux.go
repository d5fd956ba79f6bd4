package journal

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file data without the metadata that durability does not
// need. Errors are not recoverable: the kernel may have dropped the dirty
// pages already.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
