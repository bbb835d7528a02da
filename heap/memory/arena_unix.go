//go:build linux || darwin || freebsd

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reserve maps an anonymous, private, zero-filled region of size bytes.
func reserve(size int) ([]byte, error) {
	data, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// release unmaps a region returned by reserve.
func release(data []byte) error {
	return unix.Munmap(data)
}

// discard hands the physical pages backing data back to the OS. The range
// reads as zeros afterwards.
func discard(data []byte) {
	if err := unix.Madvise(data, unix.MADV_DONTNEED); err != nil {
		clear(data)
	}
}
