package heap

import "errors"

// ErrInvalidConfig indicates a Config that cannot describe a heap.
var ErrInvalidConfig = errors.New("heap: invalid config")

// OutOfMemoryError is the panic value of FatalProcessOutOfMemory.
type OutOfMemoryError struct {
	Location string
}

func (e *OutOfMemoryError) Error() string {
	return "fatal process out of memory: " + e.Location
}
