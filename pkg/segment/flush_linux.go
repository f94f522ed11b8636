//go:build linux
// +build linux

package segment

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints the kernel readahead pattern for a freshly opened
// segment file: we either scan it once top to bottom during recovery, or
// append to its tail. Random access never happens.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
