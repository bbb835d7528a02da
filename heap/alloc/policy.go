package alloc

import "github.com/joshuapare/heapkit/heap/memory"

// Heap is the part of the owning heap an allocator talks to.
type Heap interface {
	// CreateFillerObjectAt formats [addr, addr+size) as a filler.
	CreateFillerObjectAt(addr memory.Address, size int)
	// IsAllocationObserverActive reports whether observers are heap-wide
	// enabled.
	IsAllocationObserverActive() bool
	// BlackAllocation reports whether incremental marking wants new
	// old-generation objects to be allocated black.
	BlackAllocation() bool
	// StickyMarkBits reports whether mark bits persist across cycles, which
	// makes black allocation permanent for old-generation allocators.
	StickyMarkBits() bool
	// CreateBlackArea marks [start, end) live.
	CreateBlackArea(start, end memory.Address)
	// DestroyBlackArea clears the marks of [start, end).
	DestroyBlackArea(start, end memory.Address)
	// UpdateHighWaterMark records top as an allocation top of its page.
	UpdateHighWaterMark(top memory.Address)
}

// Space is a space that can back a MainAllocator.
type Space interface {
	Identity() memory.SpaceID
	// NewAllocatorPolicy returns the refill policy for a.
	NewAllocatorPolicy(a *MainAllocator) AllocatorPolicy
}

// AllocatorPolicy refills the LAB of one MainAllocator from its space.
type AllocatorPolicy interface {
	// EnsureAllocation makes room for size bytes at the given alignment,
	// installing a new LAB when needed. It returns false when the space
	// cannot grow.
	EnsureAllocation(size int, alignment AllocationAlignment, origin AllocationOrigin) bool
	// FreeLinearAllocationArea gives the unused part of the LAB back to the
	// space and invalidates the LAB.
	FreeLinearAllocationArea()
	// SupportsExtendingLAB reports whether LABs may grow in place up to
	// their original limit.
	SupportsExtendingLAB() bool
}

// BlackAllocation governs whether LAB memory is marked live on creation.
type BlackAllocation uint8

const (
	AlwaysDisabled BlackAllocation = iota
	AlwaysEnabled
	EnabledOnMarking
)

func (b BlackAllocation) String() string {
	switch b {
	case AlwaysEnabled:
		return "always_enabled"
	case EnabledOnMarking:
		return "enabled_on_marking"
	default:
		return "always_disabled"
	}
}

// ComputeBlackAllocation picks the mode for an allocator.
func ComputeBlackAllocation(isNewGeneration, stickyMarkBits bool) BlackAllocation {
	if isNewGeneration {
		return AlwaysDisabled
	}
	if stickyMarkBits {
		return AlwaysEnabled
	}
	return EnabledOnMarking
}
