package alloc

import (
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/check"
)

// LinearAllocationArea is the [start, top, limit) triple of a bump-pointer
// region. start is the top at the last point observers were advanced; it is
// not necessarily the beginning of the underlying memory.
//
// The zero value is an invalid (empty) area.
type LinearAllocationArea struct {
	start memory.Address
	top   memory.Address
	limit memory.Address
}

// Reset re-establishes the area as [start, end) with nothing allocated.
func (l *LinearAllocationArea) Reset(start, end memory.Address) {
	l.start, l.top, l.limit = start, start, end
	l.verify()
}

// IncrementTop bumps top by n and returns the old top.
func (l *LinearAllocationArea) IncrementTop(n int) memory.Address {
	old := l.top
	l.top += memory.Address(n)
	l.verify()
	return old
}

// DecrementTopIfAdjacent rewinds top to newTop when [newTop, newTop+size)
// is the last allocation of the area.
func (l *LinearAllocationArea) DecrementTopIfAdjacent(newTop memory.Address, size int) bool {
	if l.top != newTop+memory.Address(size) || newTop < l.start {
		return false
	}
	l.top = newTop
	return true
}

// ResetStart marks everything below top as accounted.
func (l *LinearAllocationArea) ResetStart() { l.start = l.top }

// SetLimit moves the limit. It must stay at or above top.
func (l *LinearAllocationArea) SetLimit(limit memory.Address) {
	l.limit = limit
	l.verify()
}

// CanIncrementTop reports whether n more bytes fit below limit.
func (l LinearAllocationArea) CanIncrementTop(n int) bool {
	return int64(l.top)+int64(n) <= int64(l.limit)
}

// IsValid reports whether the area currently covers memory.
func (l LinearAllocationArea) IsValid() bool { return l.top != memory.NullAddress }

func (l LinearAllocationArea) Start() memory.Address { return l.start }
func (l LinearAllocationArea) Top() memory.Address   { return l.top }
func (l LinearAllocationArea) Limit() memory.Address { return l.limit }

func (l LinearAllocationArea) verify() {
	check.DCheck(l.start <= l.top && l.top <= l.limit,
		"lab out of order: start=%#x top=%#x limit=%#x", l.start, l.top, l.limit)
}
