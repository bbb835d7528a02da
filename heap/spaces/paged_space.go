package spaces

import (
	"fmt"
	"sync"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// PagedSpace is an old-generation space of regular pages whose free memory
// is tracked by a segregated free list. Every free region is formatted as a
// filler so the space can be iterated.
type PagedSpace struct {
	heap     Heap
	id       memory.SpaceID
	maxPages int

	mu       sync.Mutex
	pages    []*memory.Page
	freeList *FreeList
}

// NewPagedSpace creates an empty space that grows up to maxPages pages.
func NewPagedSpace(h Heap, id memory.SpaceID, maxPages int) *PagedSpace {
	return &PagedSpace{
		heap:     h,
		id:       id,
		maxPages: maxPages,
		freeList: NewFreeList(DefaultSizeClasses),
	}
}

func (s *PagedSpace) Identity() memory.SpaceID { return s.id }

// Pages returns a snapshot of the space's pages.
func (s *PagedSpace) Pages() []*memory.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*memory.Page, len(s.pages))
	copy(out, s.pages)
	return out
}

// CommittedBytes returns the page memory held by the space.
func (s *PagedSpace) CommittedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pages)) * int64(format.PageSize)
}

// Available returns the bytes on the free list.
func (s *PagedSpace) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeList.Available()
}

// Size returns the bytes neither on the free list nor wasted.
func (s *PagedSpace) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pages))*int64(format.PageSize) - int64(s.freeList.Available()) - int64(s.freeList.Wasted())
}

// Contains reports whether a lies on a page of the space.
func (s *PagedSpace) Contains(a memory.Address) bool {
	p := s.heap.PageAllocator().PageOf(a)
	return p != nil && p.Owner() == s.id
}

// Free returns [start, start+size) to the space.
func (s *PagedSpace) Free(start memory.Address, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeLocked(start, size)
}

func (s *PagedSpace) freeLocked(start memory.Address, size int) {
	if size == 0 {
		return
	}
	s.heap.CreateFillerObjectAt(start, size)
	s.freeList.Free(start, size)
}

// expandLocked adds a fresh page to the free list.
func (s *PagedSpace) expandLocked() bool {
	if len(s.pages) >= s.maxPages {
		return false
	}
	p, err := s.heap.PageAllocator().AllocatePage(s.id)
	if err != nil {
		logger.Warn("paged space cannot expand", "space", s.id, "err", err)
		return false
	}
	s.pages = append(s.pages, p)
	s.freeLocked(p.Start(), p.Size())
	return true
}

// refillLocked takes a block of at least size bytes from the free list,
// expanding the space when needed.
func (s *PagedSpace) refillLocked(size int) (memory.Address, memory.Address, bool) {
	start, n, ok := s.freeList.Allocate(size)
	if !ok {
		if !s.expandLocked() {
			return memory.NullAddress, memory.NullAddress, false
		}
		start, n, ok = s.freeList.Allocate(size)
		if !ok {
			return memory.NullAddress, memory.NullAddress, false
		}
	}
	return start, start + memory.Address(n), true
}

// NewAllocatorPolicy returns the refill policy for a.
func (s *PagedSpace) NewAllocatorPolicy(a *alloc.MainAllocator) alloc.AllocatorPolicy {
	return &PagedSpaceAllocatorPolicy{space: s, allocator: a}
}

func (s *PagedSpace) String() string {
	return fmt.Sprintf("%s(%d pages, %d free)", s.id, len(s.pages), s.freeList.Available())
}

// PagedSpaceAllocatorPolicy refills LABs from a paged space's free list.
type PagedSpaceAllocatorPolicy struct {
	space     *PagedSpace
	allocator *alloc.MainAllocator
}

func (p *PagedSpaceAllocatorPolicy) EnsureAllocation(size int, alignment alloc.AllocationAlignment, origin alloc.AllocationOrigin) bool {
	a := p.allocator
	// The filler is unknown until the LAB is placed; assume the worst.
	size += alloc.GetMaximumFillToAlign(alignment)
	if a.IsLabValid() && a.LAB().CanIncrementTop(size) {
		return true
	}
	if !a.InGC() {
		p.space.heap.StartIncrementalMarkingIfAllocationLimitIsReached(origin)
	}

	p.space.mu.Lock()
	defer p.space.mu.Unlock()
	p.freeLinearAllocationAreaLocked()

	start, end, ok := p.space.refillLocked(size)
	if !ok {
		return false
	}
	var limit memory.Address
	if a.InGC() {
		limit = min(end, start+memory.Address(max(size, p.space.heap.LabSizeInGC())))
	} else {
		limit = a.ComputeLimit(start, end, size)
	}
	if limit != end {
		p.space.freeLocked(limit, int(end-limit))
	}
	a.SetLinearAllocationArea(start, limit, limit)
	return true
}

func (p *PagedSpaceAllocatorPolicy) FreeLinearAllocationArea() {
	p.space.mu.Lock()
	defer p.space.mu.Unlock()
	p.freeLinearAllocationAreaLocked()
}

func (p *PagedSpaceAllocatorPolicy) freeLinearAllocationAreaLocked() {
	top, end := p.allocator.ReleaseLinearAllocationArea()
	if top != end {
		p.space.freeLocked(top, int(end-top))
	}
}

func (p *PagedSpaceAllocatorPolicy) SupportsExtendingLAB() bool { return false }
