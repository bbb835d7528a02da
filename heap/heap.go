// Package heap ties the arena, spaces, marking state and pretenuring
// handler into one Heap context. Allocators and scavengers receive the Heap
// explicitly; there is no global heap.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/marking"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/pretenuring"
	"github.com/joshuapare/heapkit/heap/spaces"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

// AllocationType selects the generation a mutator allocation goes to.
type AllocationType uint8

const (
	Young AllocationType = iota
	Old
	SharedOld
)

func (t AllocationType) String() string {
	switch t {
	case Old:
		return "old"
	case SharedOld:
		return "shared_old"
	default:
		return "young"
	}
}

// Heap is the context shared by allocators and collectors.
type Heap struct {
	cfg   Config
	mem   *memory.Memory
	pages *memory.PageAllocator

	newSpace      *spaces.NewSpace
	oldSpace      *spaces.PagedSpace
	sharedSpace   *spaces.PagedSpace
	newLOSpace    *spaces.LargeObjectSpace
	loSpace       *spaces.LargeObjectSpace
	sharedLOSpace *spaces.LargeObjectSpace

	marking     *marking.State
	pretenuring *pretenuring.Handler

	newAllocator    *alloc.MainAllocator
	oldAllocator    *alloc.MainAllocator
	sharedAllocator *alloc.MainAllocator

	incrementalMarking atomic.Bool
	observersInactive  atomic.Bool

	promotionMu   sync.RWMutex
	shouldPromote func(memory.Address) bool

	pendingMu sync.Mutex
	pending   PendingScavenge

	factory     *Factory
	emptyString memory.Address
}

// New reserves the arena and builds an empty heap.
func New(cfg Config) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mem, err := memory.Reserve(cfg.ArenaPages * format.PageSize)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	h := &Heap{
		cfg:   cfg,
		mem:   mem,
		pages: memory.NewPageAllocator(mem),
	}
	h.marking = marking.NewState(h.pages.PageOf)
	h.pretenuring = pretenuring.NewHandler(mem, h.pages.PageOf)

	h.newSpace, err = spaces.NewNewSpace(h, cfg.SemiSpacePages)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("heap: %w", err)
	}
	h.oldSpace = spaces.NewPagedSpace(h, memory.OldSpace, cfg.OldSpaceMaxPages)
	h.sharedSpace = spaces.NewPagedSpace(h, memory.SharedSpace, cfg.SharedSpaceMaxPages)
	h.newLOSpace = spaces.NewLargeObjectSpace(h, memory.NewLargeObjectSpace)
	h.loSpace = spaces.NewLargeObjectSpace(h, memory.LargeObjectSpace)
	h.sharedLOSpace = spaces.NewLargeObjectSpace(h, memory.SharedLargeObjectSpace)

	h.newAllocator = alloc.NewMainAllocator(h, h.newSpace, true)
	h.oldAllocator = alloc.NewMainAllocator(h, h.oldSpace, false)
	h.sharedAllocator = alloc.NewMainAllocator(h, h.sharedSpace, false)

	h.factory = &Factory{heap: h}
	h.emptyString, err = h.factory.NewInternalizedString("")
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("heap: empty string: %w", err)
	}

	logger.Debug("heap created", "arena_pages", cfg.ArenaPages, "semi_space_pages", cfg.SemiSpacePages)
	return h, nil
}

// Close releases the arena. The heap must not be used afterwards.
func (h *Heap) Close() error {
	return h.mem.Close()
}

func (h *Heap) Config() Config                                   { return h.cfg }
func (h *Heap) Memory() *memory.Memory                           { return h.mem }
func (h *Heap) NewSpace() *spaces.NewSpace                       { return h.newSpace }
func (h *Heap) OldSpace() *spaces.PagedSpace                     { return h.oldSpace }
func (h *Heap) SharedSpace() *spaces.PagedSpace                  { return h.sharedSpace }
func (h *Heap) NewLargeObjectSpace() *spaces.LargeObjectSpace    { return h.newLOSpace }
func (h *Heap) LargeObjectSpace() *spaces.LargeObjectSpace       { return h.loSpace }
func (h *Heap) SharedLargeObjectSpace() *spaces.LargeObjectSpace { return h.sharedLOSpace }

// Marking returns the mark-bit state.
func (h *Heap) Marking() *marking.State { return h.marking }

// Pretenuring returns the allocation-site feedback handler.
func (h *Heap) Pretenuring() *pretenuring.Handler { return h.pretenuring }

// Factory returns the object factory.
func (h *Heap) Factory() *Factory { return h.factory }

// EmptyString returns the canonical empty string, which lives in old space.
func (h *Heap) EmptyString() memory.Address { return h.emptyString }

// Spaces returns every space of the heap.
func (h *Heap) Spaces() []spaces.ObjectSpace {
	return []spaces.ObjectSpace{h.newSpace, h.oldSpace, h.sharedSpace, h.newLOSpace, h.loSpace, h.sharedLOSpace}
}

// Allocator returns the mutator allocator for t.
func (h *Heap) Allocator(t AllocationType) *alloc.MainAllocator {
	switch t {
	case Old:
		return h.oldAllocator
	case SharedOld:
		return h.sharedAllocator
	default:
		return h.newAllocator
	}
}

func (h *Heap) largeObjectSpace(t AllocationType) *spaces.LargeObjectSpace {
	switch t {
	case Old:
		return h.loSpace
	case SharedOld:
		return h.sharedLOSpace
	default:
		return h.newLOSpace
	}
}

// AllocateRaw allocates size uninitialised bytes for a mutator. Objects
// larger than a regular page allows go to the large-object spaces. The
// caller must write a map before the next allocation that may trigger an
// observer or a collection. size must be a positive multiple of the object
// alignment.
func (h *Heap) AllocateRaw(size int, t AllocationType, alignment alloc.AllocationAlignment) (memory.Address, error) {
	if size <= 0 || !format.IsObjectAligned(size) {
		return memory.NullAddress, fmt.Errorf("heap: allocate %d bytes: %w", size, format.ErrUnaligned)
	}
	if size > format.MaxRegularHeapObjectSize {
		return h.largeObjectSpace(t).AllocateRaw(size)
	}
	return h.Allocator(t).AllocateRaw(size, alignment, alloc.OriginRuntime)
}

// FreeLinearAllocationAreas gives every mutator LAB back to its space. The
// heap is iterable afterwards.
func (h *Heap) FreeLinearAllocationAreas() {
	h.newAllocator.FreeLinearAllocationArea()
	h.oldAllocator.FreeLinearAllocationArea()
	h.sharedAllocator.FreeLinearAllocationArea()
}

// MakeHeapIterable backfills every mutator LAB with a filler while keeping
// the LABs.
func (h *Heap) MakeHeapIterable() {
	h.newAllocator.MakeLinearAllocationAreaIterable()
	h.oldAllocator.MakeLinearAllocationAreaIterable()
	h.sharedAllocator.MakeLinearAllocationAreaIterable()
}

// PublishPendingAllocations makes every object allocated so far visible to
// concurrent readers.
func (h *Heap) PublishPendingAllocations() {
	h.newAllocator.MoveOriginalTopForward()
	h.oldAllocator.MoveOriginalTopForward()
	h.sharedAllocator.MoveOriginalTopForward()
}

// OldGenerationSize returns the bytes held by old and large old objects.
func (h *Heap) OldGenerationSize() int64 {
	return h.oldSpace.Size() + h.loSpace.SizeOfObjects()
}

// CreateFillerObjectAt formats [addr, addr+size) as a filler.
func (h *Heap) CreateFillerObjectAt(addr memory.Address, size int) {
	objects.WriteFiller(h.mem, addr, size)
}

// SetAllocationObserversActive turns allocation observers on or off for
// every allocator of the heap. LABs should be freed first so the next
// refill picks up the change.
func (h *Heap) SetAllocationObserversActive(active bool) {
	h.observersInactive.Store(!active)
}

func (h *Heap) IsAllocationObserverActive() bool     { return !h.observersInactive.Load() }
func (h *Heap) StickyMarkBits() bool                 { return h.cfg.StickyMarkBits }
func (h *Heap) PageAllocator() *memory.PageAllocator { return h.pages }
func (h *Heap) LabSizeInGC() int                     { return h.cfg.LabSizeInGC }

// UpdateHighWaterMark records top as an allocation top of its page.
func (h *Heap) UpdateHighWaterMark(top memory.Address) {
	if top == memory.NullAddress {
		return
	}
	if p := h.pages.PageOf(top - 1); p != nil {
		p.UpdateHighWaterMark(top)
	}
}

// CopyBlock copies size bytes from src to dst. Object payloads are only
// ever moved through here.
func (h *Heap) CopyBlock(dst, src memory.Address, size int) {
	h.mem.CopyBlock(dst, src, size)
}

// FatalProcessOutOfMemory reports that location could not get memory. It
// calls Config.OnOutOfMemory and then panics with an *OutOfMemoryError; it
// never returns.
func (h *Heap) FatalProcessOutOfMemory(location string) {
	logger.Error("fatal process out of memory", "location", location,
		"committed", h.pages.CommittedBytes(), "free_pages", h.pages.FreePages())
	if h.cfg.OnOutOfMemory != nil {
		h.cfg.OnOutOfMemory(location)
	}
	panic(&OutOfMemoryError{Location: location})
}
