package alloc

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/check"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// Runtime debug flag for LAB refill logging - controlled by HEAPKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("HEAPKIT_LOG_ALLOC") != ""

// linearAreaOriginalData publishes the LAB bounds to readers on other
// goroutines. Objects in [top, limit) may still be under initialisation.
type linearAreaOriginalData struct {
	mu    sync.RWMutex
	top   atomic.Uint32
	limit atomic.Uint32
}

// MainAllocator is the allocation front-end of one space for one
// allocating context. It is not safe for concurrent use; the slow path
// synchronises through the space.
type MainAllocator struct {
	heap   Heap
	space  Space
	policy AllocatorPolicy

	lab      LinearAllocationArea
	original linearAreaOriginalData

	counter         *AllocationCounter // nil for allocators used by the GC
	observersPaused int

	blackAllocation      BlackAllocation
	supportsExtendingLAB bool
	inGC                 bool
}

// NewMainAllocator creates a mutator allocator for space s.
func NewMainAllocator(h Heap, s Space, isNewGeneration bool) *MainAllocator {
	a := &MainAllocator{
		heap:            h,
		space:           s,
		counter:         NewAllocationCounter(),
		blackAllocation: ComputeBlackAllocation(isNewGeneration, h.StickyMarkBits()),
	}
	a.policy = s.NewAllocatorPolicy(a)
	a.supportsExtendingLAB = a.policy.SupportsExtendingLAB()
	return a
}

// NewGCAllocator creates an allocator used by a collector worker. It has no
// observers and never allocates black.
func NewGCAllocator(h Heap, s Space) *MainAllocator {
	a := &MainAllocator{
		heap:            h,
		space:           s,
		blackAllocation: AlwaysDisabled,
		inGC:            true,
	}
	a.policy = s.NewAllocatorPolicy(a)
	a.supportsExtendingLAB = a.policy.SupportsExtendingLAB()
	return a
}

func (a *MainAllocator) Heap() Heap                  { return a.heap }
func (a *MainAllocator) Space() Space                { return a.space }
func (a *MainAllocator) Identity() memory.SpaceID    { return a.space.Identity() }
func (a *MainAllocator) InGC() bool                  { return a.inGC }
func (a *MainAllocator) Counter() *AllocationCounter { return a.counter }
func (a *MainAllocator) Start() memory.Address       { return a.lab.Start() }
func (a *MainAllocator) Top() memory.Address         { return a.lab.Top() }
func (a *MainAllocator) Limit() memory.Address       { return a.lab.Limit() }
func (a *MainAllocator) LAB() LinearAllocationArea   { return a.lab }
func (a *MainAllocator) IsLabValid() bool            { return a.lab.IsValid() }

// BlackAllocationMode returns how the allocator decides on black allocation.
func (a *MainAllocator) BlackAllocationMode() BlackAllocation { return a.blackAllocation }

// OriginalTop returns the published top of the LAB.
func (a *MainAllocator) OriginalTop() memory.Address { return a.original.top.Load() }

// OriginalLimit returns the limit the LAB may be extended to.
func (a *MainAllocator) OriginalLimit() memory.Address { return a.original.limit.Load() }

// AllocateRaw allocates size bytes placed according to alignment. size must
// be a multiple of the object alignment. It fails with ErrRetryAfterGC when
// the space cannot provide memory.
func (a *MainAllocator) AllocateRaw(size int, alignment AllocationAlignment, origin AllocationOrigin) (memory.Address, error) {
	check.DCheck(size > 0 && format.IsObjectAligned(size), "allocation size %d not object aligned", size)

	var (
		obj memory.Address
		ok  bool
	)
	if alignment != TaggedAligned {
		obj, _, ok = a.allocateFastAligned(size, alignment)
	} else {
		obj, ok = a.allocateFastUnaligned(size)
	}
	if ok {
		return obj, nil
	}
	return a.allocateRawSlow(size, alignment, origin)
}

func (a *MainAllocator) allocateFastUnaligned(size int) (memory.Address, bool) {
	if !a.lab.CanIncrementTop(size) {
		return memory.NullAddress, false
	}
	return a.lab.IncrementTop(size), true
}

func (a *MainAllocator) allocateFastAligned(size int, alignment AllocationAlignment) (memory.Address, int, bool) {
	top := a.lab.Top()
	fill := GetFillToAlign(top, alignment)
	alignedSize := size + fill
	if !a.lab.CanIncrementTop(alignedSize) {
		return memory.NullAddress, 0, false
	}
	obj := a.lab.IncrementTop(alignedSize) + memory.Address(fill)
	if fill > 0 {
		a.heap.CreateFillerObjectAt(top, fill)
	}
	return obj, alignedSize, true
}

func (a *MainAllocator) allocateRawSlow(size int, alignment AllocationAlignment, origin AllocationOrigin) (memory.Address, error) {
	if alignment != TaggedAligned {
		return a.allocateRawSlowAligned(size, alignment, origin)
	}
	return a.allocateRawSlowUnaligned(size, origin)
}

func (a *MainAllocator) allocateRawSlowUnaligned(size int, origin AllocationOrigin) (memory.Address, error) {
	if !a.ensureAllocation(size, TaggedAligned, origin) {
		return memory.NullAddress, ErrRetryAfterGC
	}
	obj, ok := a.allocateFastUnaligned(size)
	check.Check(ok, "refilled lab cannot hold %d bytes", size)
	a.invokeAllocationObservers(obj, size, size, size)
	return obj, nil
}

func (a *MainAllocator) allocateRawSlowAligned(size int, alignment AllocationAlignment, origin AllocationOrigin) (memory.Address, error) {
	if !a.ensureAllocation(size, alignment, origin) {
		return memory.NullAddress, ErrRetryAfterGC
	}
	maxAlignedSize := size + GetMaximumFillToAlign(alignment)
	obj, alignedSize, ok := a.allocateFastAligned(size, alignment)
	check.Check(ok, "refilled lab cannot hold %d bytes at %s", size, alignment)
	check.DCheck(alignedSize <= maxAlignedSize, "filler exceeds maximum: %d > %d", alignedSize, maxAlignedSize)
	a.invokeAllocationObservers(obj, size, alignedSize, maxAlignedSize)
	return obj, nil
}

func (a *MainAllocator) ensureAllocation(size int, alignment AllocationAlignment, origin AllocationOrigin) bool {
	if !a.policy.EnsureAllocation(size, alignment, origin) {
		logger.Debug("lab refill failed", "space", a.Identity(), "size", size, "origin", origin)
		return false
	}
	if logAlloc {
		logger.Debug("lab refilled", "space", a.Identity(), "size", size, "origin", origin,
			"start", a.lab.Start(), "limit", a.lab.Limit())
	}
	return true
}

func (a *MainAllocator) supportsAllocationObserver() bool { return a.counter != nil }

func (a *MainAllocator) observersActive() bool {
	return a.supportsAllocationObserver() && a.observersPaused == 0 && a.heap.IsAllocationObserverActive()
}

// invokeAllocationObservers runs after a slow-path allocation. size is the
// object size, alignedSize includes the alignment filler actually used and
// allocationSize is the worst case the refill was sized for.
func (a *MainAllocator) invokeAllocationObservers(soonObject memory.Address, size, alignedSize, allocationSize int) {
	check.DCheck(size <= alignedSize && alignedSize <= allocationSize,
		"observer sizes out of order: %d, %d, %d", size, alignedSize, allocationSize)
	check.DCheck(size == alignedSize || alignedSize == allocationSize,
		"partial alignment fill: %d, %d, %d", size, alignedSize, allocationSize)

	if !a.observersActive() {
		return
	}
	if allocationSize >= a.counter.NextBytes() {
		check.DCheck(soonObject == a.lab.Start()+memory.Address(alignedSize-size),
			"observed object %#x is not first in lab starting at %#x", soonObject, a.lab.Start())

		// Observers may walk the heap, so the object must be parseable.
		a.heap.CreateFillerObjectAt(soonObject, size)
		saved := a.lab
		a.counter.InvokeAllocationObservers(soonObject, size, allocationSize)
		check.DCheck(saved == a.lab, "allocation observer moved the lab")
	}
	check.DCheck(int(a.lab.Limit()-a.lab.Start()) <= a.counter.NextBytes(),
		"lab [%#x, %#x) overshoots the next observer step", a.lab.Start(), a.lab.Limit())
}

// AdvanceAllocationObservers accounts everything allocated in the LAB so
// far and moves the LAB start up to top.
func (a *MainAllocator) AdvanceAllocationObservers() {
	if !a.supportsAllocationObserver() || !a.lab.IsValid() || a.lab.Start() == a.lab.Top() {
		return
	}
	if a.observersActive() {
		a.counter.AdvanceAllocationObservers(int(a.lab.Top() - a.lab.Start()))
	}
	a.lab.ResetStart()
}

// ComputeLimit returns the limit for a new LAB over [start, end) that must
// hold at least minSize bytes. With active observers the LAB is cut short so
// the next step is seen by the slow path.
func (a *MainAllocator) ComputeLimit(start, end memory.Address, minSize int) memory.Address {
	check.DCheck(int(end-start) >= minSize, "lab [%#x, %#x) below minimum %d", start, end, minSize)
	if !a.observersActive() || !a.counter.HasObservers() {
		return end
	}
	check.DCheck(a.lab.Start() == a.lab.Top(), "unaccounted allocation in lab")
	step := a.counter.NextBytes()
	check.DCheck(step != 0, "zero observer step")
	rounded := format.RoundDownToObjectAlignment(step - 1)
	stepEnd := int64(start) + int64(max(minSize, rounded))
	return memory.Address(min(stepEnd, int64(end)))
}

// ResetLab installs [start, end) as the LAB. extendedEnd is the limit the
// LAB may later be extended to.
func (a *MainAllocator) ResetLab(start, end, extendedEnd memory.Address) {
	check.DCheck(start <= end && end <= extendedEnd, "bad lab %#x %#x %#x", start, end, extendedEnd)
	if a.lab.IsValid() {
		a.heap.UpdateHighWaterMark(a.lab.Top())
	}
	a.lab.Reset(start, end)

	a.original.mu.Lock()
	a.original.limit.Store(extendedEnd)
	a.original.top.Store(start)
	a.original.mu.Unlock()
}

// SetLinearAllocationArea installs a fresh LAB and marks it black when black
// allocation is on.
func (a *MainAllocator) SetLinearAllocationArea(start, limit, end memory.Address) {
	a.ResetLab(start, limit, end)
	if start != limit && a.IsBlackAllocationEnabled() {
		a.heap.CreateBlackArea(start, limit)
	}
}

// TryExtendLAB grows the LAB in place so size more bytes fit.
func (a *MainAllocator) TryExtendLAB(size int) bool {
	if !a.supportsExtendingLAB {
		return false
	}
	top := a.lab.Top()
	if top == memory.NullAddress {
		return false
	}
	maxLimit := a.original.limit.Load()
	if int64(top)+int64(size) > int64(maxLimit) {
		return false
	}
	a.AdvanceAllocationObservers()
	a.lab.SetLimit(a.ComputeLimit(top, maxLimit, size))
	return true
}

// ReleaseLinearAllocationArea accounts the LAB to observers, clears its
// black area and invalidates it. It returns the unused range [top, end) for
// the policy to give back to its space. Both are null when no LAB is valid.
func (a *MainAllocator) ReleaseLinearAllocationArea() (top, end memory.Address) {
	if !a.lab.IsValid() {
		return memory.NullAddress, memory.NullAddress
	}
	a.AdvanceAllocationObservers()
	top, limit := a.lab.Top(), a.lab.Limit()
	end = a.original.limit.Load()
	if top != limit && a.IsBlackAllocationEnabled() {
		a.heap.DestroyBlackArea(top, limit)
	}
	a.ResetLab(memory.NullAddress, memory.NullAddress, memory.NullAddress)
	return top, end
}

// FreeLinearAllocationArea gives the LAB back to the space, leaving a
// filler over its unused part.
func (a *MainAllocator) FreeLinearAllocationArea() {
	if !a.lab.IsValid() {
		return
	}
	a.policy.FreeLinearAllocationArea()
}

// MakeLinearAllocationAreaIterable writes a filler over the unused part of
// the LAB without giving it up.
func (a *MainAllocator) MakeLinearAllocationAreaIterable() {
	if !a.lab.IsValid() {
		return
	}
	top, end := a.lab.Top(), a.original.limit.Load()
	if top != end {
		a.heap.CreateFillerObjectAt(top, int(end-top))
	}
}

// IsBlackAllocationEnabled reports whether new LAB memory is marked live.
func (a *MainAllocator) IsBlackAllocationEnabled() bool {
	switch a.blackAllocation {
	case AlwaysEnabled:
		return true
	case EnabledOnMarking:
		return a.heap.BlackAllocation()
	default:
		return false
	}
}

// MarkLinearAllocationAreaBlack marks the unused part of the LAB live. It is
// called when marking starts while the LAB is in use.
func (a *MainAllocator) MarkLinearAllocationAreaBlack() {
	check.DCheck(a.IsBlackAllocationEnabled(), "black allocation is off")
	top, limit := a.lab.Top(), a.lab.Limit()
	if top != memory.NullAddress && top != limit {
		a.heap.CreateBlackArea(top, limit)
	}
}

// UnmarkLinearAllocationArea clears the marks of the unused part of the LAB.
func (a *MainAllocator) UnmarkLinearAllocationArea() {
	top, limit := a.lab.Top(), a.lab.Limit()
	if top != memory.NullAddress && top != limit {
		a.heap.DestroyBlackArea(top, limit)
	}
}

// TryFreeLast rewinds top over the object [obj, obj+size) if it was the
// last allocation of the LAB.
func (a *MainAllocator) TryFreeLast(obj memory.Address, size int) bool {
	if a.lab.Top() == memory.NullAddress {
		return false
	}
	return a.lab.DecrementTopIfAdjacent(obj, size)
}

// MoveOriginalTopForward publishes every object below top as initialised.
func (a *MainAllocator) MoveOriginalTopForward() {
	a.original.mu.Lock()
	defer a.original.mu.Unlock()
	check.DCheck(a.lab.Top() >= a.original.top.Load() && a.lab.Top() <= a.original.limit.Load(),
		"top %#x outside published lab", a.lab.Top())
	a.original.top.Store(a.lab.Top())
}

// IsPendingAllocation reports whether obj lies in the part of the LAB that
// has not been published yet.
func (a *MainAllocator) IsPendingAllocation(obj memory.Address) bool {
	a.original.mu.RLock()
	defer a.original.mu.RUnlock()
	top, limit := a.original.top.Load(), a.original.limit.Load()
	return top != memory.NullAddress && top <= obj && obj < limit
}

// AddAllocationObserver registers o. No LAB may be live and no step may be
// running.
func (a *MainAllocator) AddAllocationObserver(o AllocationObserver) {
	check.Check(a.supportsAllocationObserver(), "%s allocator does not support observers", a.Identity())
	check.Check(!a.counter.IsStepInProgress(), "allocation observer added during a step")
	check.DCheck(!a.IsLabValid(), "allocation observer added while a lab is live")
	a.counter.AddAllocationObserver(o)
}

// RemoveAllocationObserver unregisters o. No LAB may be live and no step
// may be running.
func (a *MainAllocator) RemoveAllocationObserver(o AllocationObserver) {
	check.Check(a.supportsAllocationObserver(), "%s allocator does not support observers", a.Identity())
	check.Check(!a.counter.IsStepInProgress(), "allocation observer removed during a step")
	check.DCheck(!a.IsLabValid(), "allocation observer removed while a lab is live")
	a.counter.RemoveAllocationObserver(o)
}

// PauseAllocationObservers stops observer accounting until the matching
// ResumeAllocationObservers. No LAB may be live.
func (a *MainAllocator) PauseAllocationObservers() {
	check.DCheck(!a.IsLabValid(), "observers paused while a lab is live")
	a.observersPaused++
}

// ResumeAllocationObservers undoes one PauseAllocationObservers.
func (a *MainAllocator) ResumeAllocationObservers() {
	check.DCheck(!a.IsLabValid(), "observers resumed while a lab is live")
	check.Check(a.observersPaused > 0, "unbalanced resume of allocation observers")
	a.observersPaused--
}

// AlignTopForTesting pads top with a filler so the next object lands at
// alignment plus offset bytes.
func (a *MainAllocator) AlignTopForTesting(alignment AllocationAlignment, offset int) memory.Address {
	check.DCheck(a.lab.Top() != memory.NullAddress, "no lab")
	fill := GetFillToAlign(a.lab.Top(), alignment)
	if fill+offset > 0 {
		a.heap.CreateFillerObjectAt(a.lab.Top(), fill+offset)
		a.lab.IncrementTop(fill + offset)
	}
	return a.lab.Top()
}
