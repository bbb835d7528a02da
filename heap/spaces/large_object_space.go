package spaces

import (
	"fmt"
	"sync"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
)

// LargeObjectSpace holds objects too big for a regular page. Each object
// lives alone at the start of its own large page, so an object is moved
// between generations by handing its page to another space.
type LargeObjectSpace struct {
	heap Heap
	id   memory.SpaceID

	mu      sync.Mutex
	pages   []*memory.Page
	objects map[*memory.Page]int // page -> object size
	size    int64
}

// NewLargeObjectSpace creates an empty large-object space with identity id.
func NewLargeObjectSpace(h Heap, id memory.SpaceID) *LargeObjectSpace {
	if !id.IsLarge() {
		panic(fmt.Sprintf("large object space with identity %s", id))
	}
	return &LargeObjectSpace{
		heap:    h,
		id:      id,
		objects: make(map[*memory.Page]int),
	}
}

func (s *LargeObjectSpace) Identity() memory.SpaceID { return s.id }

// Pages returns a snapshot of the space's pages.
func (s *LargeObjectSpace) Pages() []*memory.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*memory.Page(nil), s.pages...)
}

func (s *LargeObjectSpace) CommittedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.pages {
		n += int64(p.Size())
	}
	return n
}

// SizeOfObjects returns the bytes taken by the objects themselves.
func (s *LargeObjectSpace) SizeOfObjects() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// PageCount returns the number of objects in the space.
func (s *LargeObjectSpace) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Contains reports whether a lies on a page of the space.
func (s *LargeObjectSpace) Contains(a memory.Address) bool {
	p := s.heap.PageAllocator().PageOf(a)
	return p != nil && p.Owner() == s.id
}

// ObjectSize returns the size recorded for the object on page p.
func (s *LargeObjectSpace) ObjectSize(p *memory.Page) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.objects[p]
	return n, ok
}

// AllocateRaw reserves a page for an object of size bytes and returns the
// object address. Young objects land on a to-page; old objects are marked
// live when black allocation is on.
func (s *LargeObjectSpace) AllocateRaw(size int) (memory.Address, error) {
	p, err := s.heap.PageAllocator().AllocateLargePage(size, s.id)
	if err != nil {
		return memory.NullAddress, fmt.Errorf("%s: %w: %v", s.id, alloc.ErrRetryAfterGC, err)
	}
	if s.id.IsYoung() {
		p.SetFlags(memory.FlagToPage)
	} else if s.heap.BlackAllocation() {
		s.heap.CreateBlackArea(p.Start(), p.Start()+memory.Address(size))
	}
	s.mu.Lock()
	s.addLocked(p, size)
	s.mu.Unlock()
	s.heap.UpdateHighWaterMark(p.Start() + memory.Address(size))
	return p.Start(), nil
}

func (s *LargeObjectSpace) addLocked(p *memory.Page, size int) {
	p.SetOwner(s.id)
	s.pages = append(s.pages, p)
	s.objects[p] = size
	s.size += int64(size)
}

func (s *LargeObjectSpace) removeLocked(p *memory.Page) (int, bool) {
	size, ok := s.objects[p]
	if !ok {
		return 0, false
	}
	delete(s.objects, p)
	for i, q := range s.pages {
		if q == p {
			s.pages = append(s.pages[:i], s.pages[i+1:]...)
			break
		}
	}
	s.size -= int64(size)
	return size, true
}

// Flip turns every to-page of a young large-object space into a from-page
// ahead of a scavenge.
func (s *LargeObjectSpace) Flip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		p.ClearFlags(memory.FlagToPage)
		p.SetFlags(memory.FlagFromPage)
	}
}

// PromoteNewLargeObject moves the page holding a surviving object from from
// into s. The object keeps its address.
func (s *LargeObjectSpace) PromoteNewLargeObject(from *LargeObjectSpace, p *memory.Page) error {
	from.mu.Lock()
	size, ok := from.removeLocked(p)
	from.mu.Unlock()
	if !ok {
		return fmt.Errorf("promote %#x: page not in %s", p.Start(), from.id)
	}
	p.ClearFlags(memory.FlagFromPage | memory.FlagToPage)
	s.mu.Lock()
	s.addLocked(p, size)
	s.mu.Unlock()
	return nil
}

// FreeDeadObjects releases every page whose object isDead reports, and
// returns the number of bytes freed.
func (s *LargeObjectSpace) FreeDeadObjects(isDead func(obj memory.Address) bool) int64 {
	s.mu.Lock()
	var dead []*memory.Page
	for _, p := range s.pages {
		if isDead(p.Start()) {
			dead = append(dead, p)
		}
	}
	var freed int64
	for _, p := range dead {
		size, _ := s.removeLocked(p)
		freed += int64(size)
	}
	s.mu.Unlock()

	for _, p := range dead {
		s.heap.PageAllocator().FreePage(p)
	}
	return freed
}
