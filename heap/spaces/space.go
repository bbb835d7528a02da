// Package spaces implements the heap's spaces: the semi-space new space,
// paged old and shared spaces, and the large-object spaces. Each regular
// space hands LABs to MainAllocators through an allocator policy.
package spaces

import (
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
)

// Heap is the part of the owning heap spaces depend on.
type Heap interface {
	alloc.Heap
	// PageAllocator returns the pool pages are taken from.
	PageAllocator() *memory.PageAllocator
	// LabSizeInGC is the LAB size used by collector allocators.
	LabSizeInGC() int
	// StartIncrementalMarkingIfAllocationLimitIsReached is consulted when an
	// old-generation LAB is refilled outside of a collection.
	StartIncrementalMarkingIfAllocationLimitIsReached(origin alloc.AllocationOrigin)
}

// ObjectSpace is implemented by every space.
type ObjectSpace interface {
	Identity() memory.SpaceID
	// Pages returns a snapshot of the space's pages.
	Pages() []*memory.Page
	// CommittedBytes returns the page memory held by the space.
	CommittedBytes() int64
}
