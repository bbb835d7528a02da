package scavenger

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
)

// EvacuationAllocator gives one worker private GC LABs in the new, old and
// shared spaces. LABs are carved from the spaces under their locks, so
// workers never share a bump pointer.
type EvacuationAllocator struct {
	heap   *heap.Heap
	young  *alloc.MainAllocator
	old    *alloc.MainAllocator
	shared *alloc.MainAllocator
}

func NewEvacuationAllocator(h *heap.Heap) *EvacuationAllocator {
	return &EvacuationAllocator{
		heap:   h,
		young:  alloc.NewGCAllocator(h, h.NewSpace()),
		old:    alloc.NewGCAllocator(h, h.OldSpace()),
		shared: alloc.NewGCAllocator(h, h.SharedSpace()),
	}
}

func (a *EvacuationAllocator) allocator(space memory.SpaceID) *alloc.MainAllocator {
	switch space {
	case memory.NewSpace:
		return a.young
	case memory.OldSpace:
		return a.old
	case memory.SharedSpace:
		return a.shared
	default:
		panic(fmt.Sprintf("scavenger: cannot evacuate into %s", space))
	}
}

// Allocate reserves size bytes in space.
func (a *EvacuationAllocator) Allocate(space memory.SpaceID, size int, alignment alloc.AllocationAlignment) (memory.Address, error) {
	return a.allocator(space).AllocateRaw(size, alignment, alloc.OriginGC)
}

// FreeLast undoes the allocation [obj, obj+size) after a lost race. When
// the object is no longer the last one of its LAB it is turned into a
// filler instead.
func (a *EvacuationAllocator) FreeLast(space memory.SpaceID, obj memory.Address, size int) {
	if !a.allocator(space).TryFreeLast(obj, size) {
		a.heap.CreateFillerObjectAt(obj, size)
	}
}

// Finalize gives every LAB back to its space.
func (a *EvacuationAllocator) Finalize() {
	a.young.FreeLinearAllocationArea()
	a.old.FreeLinearAllocationArea()
	a.shared.FreeLinearAllocationArea()
}
