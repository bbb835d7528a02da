package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/heapkit/internal/format"
)

// PageAllocator carves pages out of the arena and maintains the page table.
// It is safe for concurrent use; lookups are lock free.
type PageAllocator struct {
	mem *Memory

	mu   sync.Mutex
	used []bool // per page slot

	table []atomic.Pointer[Page] // per page slot

	committed atomic.Int64
}

// NewPageAllocator creates the page pool for mem. Slot 0 stays reserved so
// that the null address never belongs to a page.
func NewPageAllocator(mem *Memory) *PageAllocator {
	slots := int(mem.Size()) >> format.PageSizeLog2
	pa := &PageAllocator{
		mem:   mem,
		used:  make([]bool, slots),
		table: make([]atomic.Pointer[Page], slots),
	}
	if slots > 0 {
		pa.used[0] = true
	}
	return pa
}

// Memory returns the arena the pages live in.
func (pa *PageAllocator) Memory() *Memory { return pa.mem }

// AllocatePage hands out one regular page owned by owner.
func (pa *PageAllocator) AllocatePage(owner SpaceID) (*Page, error) {
	return pa.allocate(format.PageSize, owner)
}

// AllocateLargePage hands out a page able to hold an object of objectSize
// bytes. The page spans as many page slots as needed.
func (pa *PageAllocator) AllocateLargePage(objectSize int, owner SpaceID) (*Page, error) {
	p, err := pa.allocate(format.AlignPage(objectSize), owner)
	if err != nil {
		return nil, err
	}
	p.SetFlags(FlagLargePage)
	return p, nil
}

func (pa *PageAllocator) allocate(size int, owner SpaceID) (*Page, error) {
	n := size >> format.PageSizeLog2

	pa.mu.Lock()
	first := pa.findRun(n)
	if first < 0 {
		pa.mu.Unlock()
		return nil, fmt.Errorf("allocate %d page(s) for %s: %w", n, owner, ErrArenaExhausted)
	}
	for i := first; i < first+n; i++ {
		pa.used[i] = true
	}
	pa.mu.Unlock()

	p := newPage(Address(first)<<format.PageSizeLog2, size, first, owner)
	for i := first; i < first+n; i++ {
		pa.table[i].Store(p)
	}
	pa.committed.Add(int64(size))
	return p, nil
}

// findRun returns the first slot of n consecutive free slots, or -1.
func (pa *PageAllocator) findRun(n int) int {
	run := 0
	for i, used := range pa.used {
		if used {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

// FreePage returns p to the pool. Its memory is discarded and reads as zeros.
func (pa *PageAllocator) FreePage(p *Page) {
	n := p.Size() >> format.PageSizeLog2
	for i := p.slot; i < p.slot+n; i++ {
		pa.table[i].Store(nil)
	}
	pa.mem.Discard(p.start, p.Size())
	pa.committed.Add(-int64(p.Size()))

	pa.mu.Lock()
	for i := p.slot; i < p.slot+n; i++ {
		pa.used[i] = false
	}
	pa.mu.Unlock()
}

// PageOf returns the page containing a, or nil.
func (pa *PageAllocator) PageOf(a Address) *Page {
	slot := int(a >> format.PageSizeLog2)
	if slot >= len(pa.table) {
		return nil
	}
	return pa.table[slot].Load()
}

// CommittedBytes returns the bytes currently handed out as pages.
func (pa *PageAllocator) CommittedBytes() int64 { return pa.committed.Load() }

// FreePages returns the number of unused page slots.
func (pa *PageAllocator) FreePages() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	free := 0
	for _, used := range pa.used {
		if !used {
			free++
		}
	}
	return free
}
