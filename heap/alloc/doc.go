// Package alloc provides bump-pointer allocation for heap spaces.
//
// # Overview
//
// A MainAllocator owns one linear allocation area (LAB), the region
// [start, limit) of a page it may hand out without synchronisation. The fast
// path bumps top; when the LAB is exhausted the slow path asks the space's
// AllocatorPolicy for a new one.
//
//	start        top                 limit
//	  |  allocated |      free         |
//
// # Alignment
//
// Objects that carry unboxed doubles request DoubleAligned or
// DoubleUnaligned placement. The allocator places a one-word filler in front
// of the object when top does not already satisfy the request:
//
//	GetFillToAlign(top, alignment)   // 0 or 4
//	GetMaximumFillToAlign(alignment) // upper bound used to size refills
//
// # Allocation Observers
//
// Observers registered with the AllocationCounter are stepped every
// NextStepSize bytes. LAB limits are lowered so that only the first object
// of a fresh LAB can cross an observer threshold, which keeps the fast path
// free of observer checks. Bytes allocated inside a LAB are reported when
// the LAB is torn down.
//
// # Black Allocation
//
// While incremental marking runs, old-generation LABs are marked black when
// they are created so the marker treats new objects as live. Young
// allocators never allocate black.
//
// # Usage Example
//
//	a := alloc.NewMainAllocator(heap, space, false)
//	addr, err := a.AllocateRaw(24, alloc.TaggedAligned, alloc.OriginRuntime)
//	if errors.Is(err, alloc.ErrRetryAfterGC) {
//	    // collect garbage and retry
//	}
//	a.FreeLinearAllocationArea()
package alloc
