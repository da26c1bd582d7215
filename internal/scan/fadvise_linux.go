//go:build linux

package scan

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the range is read front to back once.
// Failures are ignored; the hint only affects read-ahead.
func adviseSequential(f *os.File, off, n int64) {
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, off, n, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(fd, off, n, unix.FADV_WILLNEED)
}
