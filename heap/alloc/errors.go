package alloc

import "errors"

var (
	// ErrRetryAfterGC indicates the backing space cannot provide a new LAB.
	// The caller is expected to trigger a collection and retry.
	ErrRetryAfterGC = errors.New("alloc: allocation failed, retry after gc")
)
