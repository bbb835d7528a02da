package alloc

import (
	"math"
	"slices"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/check"
)

// AllocationObserver is notified roughly every NextStepSize bytes of
// allocation.
type AllocationObserver interface {
	// Step is called with the bytes allocated since the previous step, the
	// address of the object about to be initialised and its size. The object
	// is a filler while Step runs. Step must not allocate through the
	// allocator that called it.
	Step(bytesAllocated int, soonObject memory.Address, size int)
	// NextStepSize returns the distance to the next step.
	NextStepSize() int
}

type observerCounter struct {
	observer AllocationObserver
	prev     uint64
	next     uint64
}

// AllocationCounter tracks registered observers and the byte count until
// the next one is due.
type AllocationCounter struct {
	observers []observerCounter

	pendingAdded   []AllocationObserver
	pendingRemoved []AllocationObserver

	current uint64
	next    uint64

	stepInProgress bool
}

// NewAllocationCounter returns a counter with no observers.
func NewAllocationCounter() *AllocationCounter {
	return &AllocationCounter{}
}

// IsStepInProgress reports whether observers are being invoked.
func (c *AllocationCounter) IsStepInProgress() bool { return c.stepInProgress }

// HasObservers reports whether at least one observer is registered.
func (c *AllocationCounter) HasObservers() bool { return len(c.observers) > 0 }

// AddAllocationObserver registers o. During a step the addition is applied
// once the step completes.
func (c *AllocationCounter) AddAllocationObserver(o AllocationObserver) {
	if c.stepInProgress {
		c.pendingAdded = append(c.pendingAdded, o)
		return
	}
	next := c.current + uint64(o.NextStepSize())
	c.observers = append(c.observers, observerCounter{observer: o, prev: c.current, next: next})
	if len(c.observers) == 1 {
		c.next = next
	} else {
		c.next = min(c.next, next)
	}
}

// RemoveAllocationObserver unregisters o. During a step the removal is
// applied once the step completes.
func (c *AllocationCounter) RemoveAllocationObserver(o AllocationObserver) {
	if c.stepInProgress {
		c.pendingRemoved = append(c.pendingRemoved, o)
		return
	}
	i := slices.IndexFunc(c.observers, func(oc observerCounter) bool { return oc.observer == o })
	check.Check(i >= 0, "remove of unregistered allocation observer")
	c.observers = slices.Delete(c.observers, i, i+1)
	c.recomputeNext()
}

func (c *AllocationCounter) recomputeNext() {
	if len(c.observers) == 0 {
		c.current, c.next = 0, 0
		return
	}
	c.next = math.MaxUint64
	for _, oc := range c.observers {
		c.next = min(c.next, oc.next)
	}
}

// NextBytes returns the bytes that may be allocated before the next step.
func (c *AllocationCounter) NextBytes() int {
	if len(c.observers) == 0 {
		return math.MaxInt
	}
	return int(c.next - c.current)
}

// BytesSinceLastStep returns the bytes accounted since o last stepped, or 0
// when o is not registered.
func (c *AllocationCounter) BytesSinceLastStep(o AllocationObserver) int {
	for _, oc := range c.observers {
		if oc.observer == o {
			return int(c.current - oc.prev)
		}
	}
	return 0
}

// AdvanceAllocationObservers accounts n bytes that did not cross a
// threshold.
func (c *AllocationCounter) AdvanceAllocationObservers(n int) {
	if len(c.observers) == 0 {
		return
	}
	check.DCheck(!c.stepInProgress, "advance during observer step")
	check.DCheck(uint64(n) < c.next-c.current, "advance by %d crosses the next step at %d", n, c.next-c.current)
	c.current += uint64(n)
}

// InvokeAllocationObservers steps every observer whose threshold falls
// within allocationSize bytes of the current count. soonObject is the
// object being allocated and size its size.
func (c *AllocationCounter) InvokeAllocationObservers(soonObject memory.Address, size, allocationSize int) {
	if len(c.observers) == 0 {
		return
	}
	check.DCheck(!c.stepInProgress, "recursive observer step")
	check.DCheck(uint64(allocationSize) >= c.next-c.current, "observer step before threshold")

	c.stepInProgress = true
	defer func() { c.stepInProgress = false }()

	stepRun := false
	var step uint64
	for i := range c.observers {
		oc := &c.observers[i]
		if oc.next-c.current <= uint64(allocationSize) {
			oc.observer.Step(int(c.current-oc.prev), soonObject, size)
			oc.prev = c.current
			oc.next = c.current + uint64(allocationSize) + uint64(oc.observer.NextStepSize())
			stepRun = true
		}
		left := oc.next - c.current
		if step == 0 {
			step = left
		} else {
			step = min(step, left)
		}
	}
	check.Check(stepRun, "observer step without due observer")

	for _, o := range c.pendingAdded {
		next := c.current + uint64(allocationSize) + uint64(o.NextStepSize())
		c.observers = append(c.observers, observerCounter{observer: o, prev: c.current, next: next})
		step = min(step, next-c.current)
	}
	c.pendingAdded = c.pendingAdded[:0]

	if len(c.pendingRemoved) > 0 {
		c.observers = slices.DeleteFunc(c.observers, func(oc observerCounter) bool {
			return slices.Contains(c.pendingRemoved, oc.observer)
		})
		c.pendingRemoved = c.pendingRemoved[:0]
		if len(c.observers) == 0 {
			c.current, c.next = 0, 0
			return
		}
		step = math.MaxUint64
		for _, oc := range c.observers {
			step = min(step, oc.next-c.current)
		}
	}

	c.next = c.current + step
}
