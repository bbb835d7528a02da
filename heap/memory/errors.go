package memory

import "errors"

var (
	// ErrArenaSize indicates the requested arena size is not a positive multiple of the page size.
	ErrArenaSize = errors.New("memory: arena size must be a positive multiple of the page size")

	// ErrArenaExhausted indicates no run of free page slots was large enough.
	ErrArenaExhausted = errors.New("memory: arena exhausted")

	// ErrClosed indicates the arena has already been released.
	ErrClosed = errors.New("memory: arena closed")
)
