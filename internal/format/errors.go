package format

import "errors"

var (
	// ErrUnaligned indicates an address or size violated ObjectAlignment.
	ErrUnaligned = errors.New("format: unaligned address or size")
	// ErrSmiRange indicates an integer does not fit in a Smi.
	ErrSmiRange = errors.New("format: value out of smi range")
)
