package spaces

import (
	"fmt"
	"sync"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
)

// SemiSpace is one half of the new space.
type SemiSpace struct {
	pages   []*memory.Page
	current int
}

// Pages returns the pages of the semi-space in allocation order.
func (ss *SemiSpace) Pages() []*memory.Page { return ss.pages }

// CurrentPage returns the page allocation currently happens on.
func (ss *SemiSpace) CurrentPage() *memory.Page { return ss.pages[ss.current] }

func (ss *SemiSpace) advancePage() bool {
	if ss.current+1 >= len(ss.pages) {
		return false
	}
	ss.current++
	return true
}

func (ss *SemiSpace) setFlags(set, clear memory.PageFlag) {
	for _, p := range ss.pages {
		p.ClearFlags(clear)
		p.SetFlags(set)
	}
}

// NewSpace is the young generation: a to-space allocation happens in and a
// from-space evacuated by the scavenger. Objects below the age mark have
// survived one scavenge already.
type NewSpace struct {
	heap Heap

	mu      sync.Mutex
	to      *SemiSpace
	from    *SemiSpace
	top     memory.Address // allocation top on the current to-space page
	ageMark memory.Address
}

// NewNewSpace allocates both semi-spaces of pagesPerSemiSpace pages each.
func NewNewSpace(h Heap, pagesPerSemiSpace int) (*NewSpace, error) {
	if pagesPerSemiSpace <= 0 {
		return nil, fmt.Errorf("new space: %d pages per semi-space", pagesPerSemiSpace)
	}
	s := &NewSpace{
		heap: h,
		to:   &SemiSpace{},
		from: &SemiSpace{},
	}
	for _, ss := range []*SemiSpace{s.to, s.from} {
		for range pagesPerSemiSpace {
			p, err := h.PageAllocator().AllocatePage(memory.NewSpace)
			if err != nil {
				return nil, fmt.Errorf("new space: %w", err)
			}
			ss.pages = append(ss.pages, p)
		}
	}
	s.to.setFlags(memory.FlagToPage, 0)
	s.top = s.to.CurrentPage().Start()
	s.ageMark = s.top
	return s, nil
}

func (s *NewSpace) Identity() memory.SpaceID { return memory.NewSpace }

// Pages returns the to-space pages.
func (s *NewSpace) Pages() []*memory.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*memory.Page(nil), s.to.pages...)
}

// FromPages returns the from-space pages.
func (s *NewSpace) FromPages() []*memory.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*memory.Page(nil), s.from.pages...)
}

// CommittedBytes returns the memory of both semi-spaces.
func (s *NewSpace) CommittedBytes() int64 {
	return int64(len(s.to.pages)+len(s.from.pages)) * int64(s.to.pages[0].Size())
}

// Capacity returns the bytes one semi-space can hold.
func (s *NewSpace) Capacity() int {
	return len(s.to.pages) * s.to.pages[0].Size()
}

// Size returns the bytes handed out from to-space so far.
func (s *NewSpace) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := 0
	for i := range s.to.current {
		size += s.to.pages[i].Size()
	}
	return size + int(s.top-s.to.CurrentPage().Start())
}

// Top returns the allocation top.
func (s *NewSpace) Top() memory.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top
}

// AgeMark returns the to-space top at the end of the previous scavenge.
func (s *NewSpace) AgeMark() memory.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ageMark
}

// AllocatedLimit returns the end of the allocated part of page p, which
// must be a to-space page.
func (s *NewSpace) AllocatedLimit(p *memory.Page) memory.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.to.pages {
		if q != p {
			continue
		}
		switch {
		case i < s.to.current:
			return p.End()
		case i == s.to.current:
			return s.top
		default:
			return p.Start()
		}
	}
	return p.Start()
}

// Flip swaps the semi-spaces. The old to-space becomes from-space and
// allocation restarts at the beginning of the new to-space. All LABs must
// have been freed.
func (s *NewSpace) Flip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to, s.from = s.from, s.to
	s.from.setFlags(memory.FlagFromPage, memory.FlagToPage)
	s.to.setFlags(memory.FlagToPage, memory.FlagFromPage|memory.FlagBelowAgeMark)
	for _, p := range s.to.pages {
		p.ResetHighWaterMark()
	}
	s.to.current = 0
	s.top = s.to.CurrentPage().Start()
}

// ShouldBePromoted reports whether the from-space object at obj has already
// survived a scavenge.
func (s *NewSpace) ShouldBePromoted(obj memory.Address) bool {
	p := s.heap.PageAllocator().PageOf(obj)
	if p == nil || !p.IsFlagSet(memory.FlagBelowAgeMark) {
		return false
	}
	mark := s.AgeMark()
	return !p.ContainsLimit(mark) || obj < mark
}

// SetAgeMark records mark, normally the current top, as the age mark and
// flags the to-space pages below it.
func (s *NewSpace) SetAgeMark(mark memory.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ageMark = mark
	below := true
	for _, p := range s.to.pages {
		if below && mark != p.Start() {
			p.SetFlags(memory.FlagBelowAgeMark)
		} else {
			p.ClearFlags(memory.FlagBelowAgeMark)
		}
		if p.ContainsLimit(mark) {
			below = false
		}
	}
}

// ReleaseFromSpace returns the memory of from-space to the OS and clears
// its marking state. Nothing may point into from-space anymore.
func (s *NewSpace) ReleaseFromSpace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.heap.PageAllocator().Memory()
	for _, p := range s.from.pages {
		mem.Discard(p.Start(), p.Size())
		p.ResetMarking()
		p.ResetHighWaterMark()
		p.ClearFlags(memory.FlagFromPage | memory.FlagBelowAgeMark)
	}
}

// allocateLocked reserves the rest of the current page, or of the next page
// when size bytes at alignment do not fit. It returns the reserved range.
func (s *NewSpace) allocateLocked(size int, alignment alloc.AllocationAlignment) (memory.Address, memory.Address, bool) {
	top, high := s.top, s.to.CurrentPage().End()
	if int64(top)+int64(size+alloc.GetFillToAlign(top, alignment)) <= int64(high) {
		s.top = high
		return top, high, true
	}
	if top != high {
		s.heap.CreateFillerObjectAt(top, int(high-top))
	}
	s.top = high
	if !s.to.advancePage() {
		return memory.NullAddress, memory.NullAddress, false
	}
	top, high = s.to.CurrentPage().Start(), s.to.CurrentPage().End()
	if int64(top)+int64(size+alloc.GetFillToAlign(top, alignment)) > int64(high) {
		return memory.NullAddress, memory.NullAddress, false
	}
	s.top = high
	return top, high, true
}

// freeLocked formats [start, end) as a filler and moves top back when the
// range was the last one handed out.
func (s *NewSpace) freeLocked(start, end memory.Address) {
	if start == end {
		return
	}
	s.heap.CreateFillerObjectAt(start, int(end-start))
	if end == s.top {
		s.top = start
	}
}

// NewAllocatorPolicy returns the refill policy for a.
func (s *NewSpace) NewAllocatorPolicy(a *alloc.MainAllocator) alloc.AllocatorPolicy {
	return &SemiSpaceAllocatorPolicy{space: s, allocator: a}
}

// SemiSpaceAllocatorPolicy refills LABs from the current to-space page.
// Mutator LABs may later be extended up to the end of the page; collector
// LABs are capped at LabSizeInGC so several workers can share a page.
type SemiSpaceAllocatorPolicy struct {
	space     *NewSpace
	allocator *alloc.MainAllocator
}

func (p *SemiSpaceAllocatorPolicy) EnsureAllocation(size int, alignment alloc.AllocationAlignment, _ alloc.AllocationOrigin) bool {
	a := p.allocator
	if a.TryExtendLAB(size + alloc.GetMaximumFillToAlign(alignment)) {
		return true
	}

	s := p.space
	s.mu.Lock()
	defer s.mu.Unlock()
	p.freeLinearAllocationAreaLocked()

	start, end, ok := s.allocateLocked(size, alignment)
	if !ok {
		return false
	}
	aligned := size + alloc.GetFillToAlign(start, alignment)

	if a.InGC() {
		limit := min(end, start+memory.Address(max(aligned, s.heap.LabSizeInGC())))
		s.freeLocked(limit, end)
		a.SetLinearAllocationArea(start, limit, limit)
		return true
	}
	a.SetLinearAllocationArea(start, a.ComputeLimit(start, end, aligned), end)
	return true
}

func (p *SemiSpaceAllocatorPolicy) FreeLinearAllocationArea() {
	p.space.mu.Lock()
	defer p.space.mu.Unlock()
	p.freeLinearAllocationAreaLocked()
}

func (p *SemiSpaceAllocatorPolicy) freeLinearAllocationAreaLocked() {
	top, end := p.allocator.ReleaseLinearAllocationArea()
	p.space.freeLocked(top, end)
}

func (p *SemiSpaceAllocatorPolicy) SupportsExtendingLAB() bool { return !p.allocator.InGC() }
