package objects

import "errors"

var (
	// ErrNotString indicates a string accessor was used on another object.
	ErrNotString = errors.New("objects: not a string")
	// ErrNotOneByte indicates a value has characters outside Latin-1.
	ErrNotOneByte = errors.New("objects: value is not representable in one byte per character")
)
