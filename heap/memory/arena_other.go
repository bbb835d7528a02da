//go:build !linux && !darwin && !freebsd

package memory

// reserve allocates the arena on the Go heap on platforms without mmap.
func reserve(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func release(data []byte) error {
	return nil
}

func discard(data []byte) {
	clear(data)
}
