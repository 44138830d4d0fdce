//go:build linux

package corpus

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseRandom tells the kernel not to read ahead; batches touch a handful of
// small windows at random offsets.
func adviseRandom(f *os.File, size int64) {
	_ = unix.Fadvise(int(f.Fd()), 0, size, unix.FADV_RANDOM)
}
