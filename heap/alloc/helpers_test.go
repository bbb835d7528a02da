package alloc_test

import (
	"os"
	"testing"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/check"
)

func TestMain(m *testing.M) {
	check.SlowChecks = true
	os.Exit(m.Run())
}

const spaceBase = memory.Address(0x10000)

type span struct {
	start memory.Address
	size  int
}

// fakeHeap records what the allocator asks of its heap.
type fakeHeap struct {
	fillers        []span
	blackAreas     []span
	destroyedAreas []span
	highWaterMark  memory.Address
	black          bool
	sticky         bool
	observersOff   bool
}

func (h *fakeHeap) CreateFillerObjectAt(a memory.Address, size int) {
	h.fillers = append(h.fillers, span{a, size})
}
func (h *fakeHeap) IsAllocationObserverActive() bool { return !h.observersOff }
func (h *fakeHeap) BlackAllocation() bool            { return h.black }
func (h *fakeHeap) StickyMarkBits() bool             { return h.sticky }
func (h *fakeHeap) CreateBlackArea(start, end memory.Address) {
	h.blackAreas = append(h.blackAreas, span{start, int(end - start)})
}
func (h *fakeHeap) DestroyBlackArea(start, end memory.Address) {
	h.destroyedAreas = append(h.destroyedAreas, span{start, int(end - start)})
}
func (h *fakeHeap) UpdateHighWaterMark(top memory.Address) { h.highWaterMark = top }

// fakeSpace hands out LABs of labSize bytes from a bump region and returns
// the unused part of cut-short LABs to nowhere.
type fakeSpace struct {
	id      memory.SpaceID
	next    memory.Address
	end     memory.Address
	labSize int

	refills  int
	returned []span
	used     int // top - start summed over released LABs
}

func newFakeSpace(id memory.SpaceID, labSize, capacity int) *fakeSpace {
	return &fakeSpace{id: id, next: spaceBase, end: spaceBase + memory.Address(capacity), labSize: labSize}
}

func (s *fakeSpace) Identity() memory.SpaceID { return s.id }

func (s *fakeSpace) NewAllocatorPolicy(a *alloc.MainAllocator) alloc.AllocatorPolicy {
	return &fakePolicy{space: s, allocator: a}
}

type fakePolicy struct {
	space     *fakeSpace
	allocator *alloc.MainAllocator
	labStart  memory.Address
}

func (p *fakePolicy) EnsureAllocation(size int, alignment alloc.AllocationAlignment, _ alloc.AllocationOrigin) bool {
	s := p.space
	s.refills++
	p.FreeLinearAllocationArea()

	need := size + alloc.GetMaximumFillToAlign(alignment)
	labSize := max(need, s.labSize)
	if int(s.end-s.next) < labSize {
		return false
	}
	start := s.next
	end := start + memory.Address(labSize)
	s.next = end

	limit := p.allocator.ComputeLimit(start, end, need)
	if limit != end {
		s.returned = append(s.returned, span{limit, int(end - limit)})
	}
	p.labStart = start
	p.allocator.SetLinearAllocationArea(start, limit, limit)
	return true
}

func (p *fakePolicy) FreeLinearAllocationArea() {
	if !p.allocator.IsLabValid() {
		return
	}
	top, end := p.allocator.ReleaseLinearAllocationArea()
	p.space.used += int(top - p.labStart)
	if top != end {
		p.space.returned = append(p.space.returned, span{top, int(end - top)})
	}
}

func (p *fakePolicy) SupportsExtendingLAB() bool { return false }

// stepObserver records every step.
type stepObserver struct {
	step     int
	reported int
	calls    int
	objects  []memory.Address
	onStep   func()
}

func (o *stepObserver) Step(bytes int, soon memory.Address, _ int) {
	o.reported += bytes
	o.calls++
	o.objects = append(o.objects, soon)
	if o.onStep != nil {
		o.onStep()
	}
}

func (o *stepObserver) NextStepSize() int { return o.step }
