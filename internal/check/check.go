// Package check provides the heap's assertion helpers.
//
// Check guards API contracts and is always on. DCheck guards internal
// invariants and only runs when HEAPKIT_SLOW_CHECKS is set (or SlowChecks is
// flipped by a test before any goroutine starts).
package check

import (
	"fmt"
	"os"
)

// SlowChecks enables DCheck. Controlled by the HEAPKIT_SLOW_CHECKS env var.
var SlowChecks = os.Getenv("HEAPKIT_SLOW_CHECKS") != ""

// InvariantError is the panic value raised by a failed check.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// Check panics with an *InvariantError when cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}

// DCheck is Check gated by SlowChecks.
func DCheck(cond bool, format string, args ...any) {
	if SlowChecks && !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}
