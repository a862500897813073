//go:build linux

package mapping

import "golang.org/x/sys/unix"

// adviseSequential hints the kernel that events are decoded front to back.
// Errors are ignored; the hint is not required for correctness.
func adviseSequential(b []byte) {
	_ = unix.Madvise(b, unix.MADV_SEQUENTIAL)
}
