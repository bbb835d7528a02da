package spaces_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/check"
	"github.com/joshuapare/heapkit/internal/format"
)

func TestMain(m *testing.M) {
	check.SlowChecks = true
	os.Exit(m.Run())
}

type span struct {
	start memory.Address
	size  int
}

// testHeap backs spaces with a real arena and writes real fillers.
type testHeap struct {
	mem   *memory.Memory
	pages *memory.PageAllocator

	black       bool
	blackAreas  []span
	labSizeInGC int
	limitChecks int
}

func newTestHeap(t *testing.T, pages int) *testHeap {
	t.Helper()
	mem, err := memory.Reserve(pages * format.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return &testHeap{
		mem:         mem,
		pages:       memory.NewPageAllocator(mem),
		labSizeInGC: 1024,
	}
}

func (h *testHeap) CreateFillerObjectAt(a memory.Address, size int) {
	objects.WriteFiller(h.mem, a, size)
}
func (h *testHeap) IsAllocationObserverActive() bool { return true }
func (h *testHeap) BlackAllocation() bool            { return h.black }
func (h *testHeap) StickyMarkBits() bool             { return false }
func (h *testHeap) CreateBlackArea(start, end memory.Address) {
	h.blackAreas = append(h.blackAreas, span{start, int(end - start)})
}
func (h *testHeap) DestroyBlackArea(memory.Address, memory.Address) {}
func (h *testHeap) UpdateHighWaterMark(top memory.Address) {
	if p := h.pages.PageOf(top - 1); p != nil {
		p.UpdateHighWaterMark(top)
	}
}
func (h *testHeap) PageAllocator() *memory.PageAllocator { return h.pages }
func (h *testHeap) LabSizeInGC() int                     { return h.labSizeInGC }
func (h *testHeap) StartIncrementalMarkingIfAllocationLimitIsReached(alloc.AllocationOrigin) {
	h.limitChecks++
}

// requireFiller asserts that a filler of size bytes starts at a.
func requireFiller(t *testing.T, h *testHeap, a memory.Address, size int) {
	t.Helper()
	m := objects.MapOf(h.mem, a)
	require.True(t, objects.IsFiller(m), "%#x holds %s", a, m)
	require.Equal(t, size, objects.Size(h.mem, a))
}
