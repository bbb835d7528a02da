package scavenger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/check"
)

func TestMain(m *testing.M) {
	check.SlowChecks = true
	os.Exit(m.Run())
}

func newTestHeap(t *testing.T, modify ...func(*heap.Config)) *heap.Heap {
	t.Helper()
	cfg := heap.DefaultConfig()
	cfg.ArenaPages = 64
	cfg.SemiSpacePages = 2
	cfg.OldSpaceMaxPages = 8
	cfg.SharedSpaceMaxPages = 4
	for _, fn := range modify {
		fn(&cfg)
	}
	h, err := heap.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func alwaysPromote(h *heap.Heap) {
	h.SetPromotionPolicy(func(memory.Address) bool { return true })
}

// roots is an old-space array whose elements serve as root slots.
type roots struct {
	h     *heap.Heap
	array memory.Address
	n     int
}

func newRoots(t *testing.T, h *heap.Heap, n int) *roots {
	t.Helper()
	array, err := h.Factory().NewFixedArray(n, heap.Old)
	require.NoError(t, err)
	return &roots{h: h, array: array, n: n}
}

func (r *roots) slot(i int) memory.Address { return objects.ElementSlot(r.array, i) }

func (r *roots) set(i int, obj memory.Address) {
	objects.StoreSlot(r.h.Memory(), r.slot(i), objects.StrongRef(obj))
}

func (r *roots) load(i int) objects.Tagged { return objects.LoadSlot(r.h.Memory(), r.slot(i)) }

func (r *roots) get(i int) memory.Address { return r.load(i).Address() }

func (r *roots) slots() []memory.Address {
	out := make([]memory.Address, r.n)
	for i := range r.n {
		out[i] = r.slot(i)
	}
	return out
}

// flip starts a cycle by hand for tests that drive a Scavenger directly.
func flip(h *heap.Heap) {
	h.FreeLinearAllocationAreas()
	h.NewSpace().Flip()
	h.NewLargeObjectSpace().Flip()
}

func newString(t *testing.T, h *heap.Heap, s string) memory.Address {
	t.Helper()
	obj, err := h.Factory().NewString(s, heap.Young)
	require.NoError(t, err)
	return obj
}

func newArray(t *testing.T, h *heap.Heap, values ...objects.Tagged) memory.Address {
	t.Helper()
	obj, err := h.Factory().NewFixedArrayFrom(values, heap.Young)
	require.NoError(t, err)
	return obj
}

func requireString(t *testing.T, h *heap.Heap, want string, obj memory.Address) {
	t.Helper()
	got, err := objects.StringValue(h.Memory(), obj)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func collect(t *testing.T, h *heap.Heap, slots []memory.Address) *Stats {
	t.Helper()
	stats, err := NewCollector(h).Collect(slots)
	require.NoError(t, err)
	return stats
}

// exhaust allocates from space until nothing of 8 bytes or more is left.
func exhaust(s *Scavenger, space memory.SpaceID) {
	for _, size := range []int{1024, 64, 8} {
		for {
			if _, err := s.allocator.Allocate(space, size, alloc.TaggedAligned); err != nil {
				break
			}
		}
	}
}
