package scavenger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/verify"
)

func TestCheckAndScavengeObject_Classification(t *testing.T) {
	h := newTestHeap(t)
	mem := h.Memory()
	r := newRoots(t, h, 6)

	young := newArray(t, h, objects.MustSmi(1))
	old, err := h.Factory().NewFixedArray(1, heap.Old)
	require.NoError(t, err)

	objects.StoreSlot(mem, r.slot(0), objects.MustSmi(3))
	objects.StoreSlot(mem, r.slot(1), objects.ClearedWeak)
	r.set(2, old)
	r.set(3, young)
	flip(h)
	inToSpace := newArray(t, h)
	r.set(4, inToSpace)
	r.set(5, young)

	tests := []struct {
		name string
		slot int
		want SlotCallbackResult
	}{
		{"smi", 0, RemoveSlot},
		{"cleared weak", 1, RemoveSlot},
		{"old referent", 2, RemoveSlot},
		{"from-space referent", 3, KeepSlot},
		{"to-space referent", 4, KeepSlot},
		{"already forwarded", 5, KeepSlot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckAndScavengeObject(h, r.slot(tt.slot)))
		})
	}

	assert.Equal(t, old, r.get(2))
	assert.True(t, h.InToPage(r.get(3)))
	assert.Equal(t, r.get(3), r.get(5))
	assert.Equal(t, 1, objects.LoadSlot(mem, objects.ElementSlot(r.get(3), 0)).SmiValue())
}

func TestCheckAndScavengeObject_LargeObjectOutlivesNextCollect(t *testing.T) {
	h := newTestHeap(t)
	mem := h.Memory()
	r := newRoots(t, h, 1)
	large, err := h.Factory().NewFixedArray(10000, heap.Young)
	require.NoError(t, err)
	require.True(t, h.IsLargeObject(large))
	child := newString(t, h, "child")
	slot := objects.ElementSlot(large, 3)
	objects.StoreSlot(mem, slot, objects.StrongRef(child))
	r.set(0, large)

	flip(h)
	assert.Equal(t, RemoveSlot, CheckAndScavengeObject(h, r.slot(0)))
	assert.Equal(t, large, r.get(0))
	assert.Equal(t, memory.LargeObjectSpace, h.SpaceOf(large))
	assert.True(t, objects.LoadMapWord(mem, large).IsMap())
	assert.True(t, h.InToPage(objects.LoadSlot(mem, slot).Address()))
	require.NoError(t, verify.AllInvariants(h))

	stats := collect(t, h, r.slots())
	assert.Equal(t, 1, stats.SurvivingLargeObjects)
	assert.Zero(t, stats.FreedLargeBytes)
	assert.Equal(t, large, r.get(0))
	assert.NotNil(t, h.PageAllocator().PageOf(large))
	moved := objects.LoadSlot(mem, slot).Address()
	assert.False(t, h.InYoungGeneration(moved))
	requireString(t, h, "child", moved)
	require.NoError(t, verify.AllInvariants(h))

	stats = collect(t, h, r.slots())
	assert.Zero(t, stats.FreedLargeBytes)
	assert.Equal(t, 1, h.LargeObjectSpace().PageCount())
	assert.Equal(t, objects.MapFor(objects.FixedArrayMap), objects.MapOf(mem, large))
	require.NoError(t, verify.AllInvariants(h))
}

func TestCheckAndScavengeObject_NextCollectClearsDeadEphemerons(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	mem := h.Memory()
	r := newRoots(t, h, 2)

	table, err := f.NewEphemeronHashTable(2, heap.Young)
	require.NoError(t, err)
	liveKey := newArray(t, h)
	deadKey := newArray(t, h)
	f.SetEphemeronEntry(table, 0, liveKey, objects.MustSmi(1))
	f.SetEphemeronEntry(table, 1, deadKey, objects.MustSmi(2))
	r.set(0, table)
	r.set(1, liveKey)

	flip(h)
	assert.Equal(t, KeepSlot, CheckAndScavengeObject(h, r.slot(0)))
	assert.Equal(t, KeepSlot, CheckAndScavengeObject(h, r.slot(1)))

	stats := collect(t, h, r.slots())
	assert.Equal(t, 1, stats.ClearedEphemerons)

	k0, v0 := objects.EphemeronSlots(r.get(0), 0)
	assert.Equal(t, r.get(1), objects.LoadSlot(mem, k0).Address())
	assert.Equal(t, objects.MustSmi(1), objects.LoadSlot(mem, v0))
	k1, v1 := objects.EphemeronSlots(r.get(0), 1)
	assert.True(t, objects.LoadSlot(mem, k1).IsCleared())
	assert.Equal(t, objects.MustSmi(0), objects.LoadSlot(mem, v1))
	require.NoError(t, verify.AllInvariants(h))
}

func TestScavengeObject_WeakSlotStaysWeak(t *testing.T) {
	h := newTestHeap(t)
	mem := h.Memory()
	r := newRoots(t, h, 1)
	obj := newArray(t, h)
	objects.StoreSlot(mem, r.slot(0), objects.WeakRef(obj))
	flip(h)

	s := New(h)
	assert.Equal(t, KeepSlot, s.CheckAndScavengeObject(r.slot(0)))
	got := r.load(0)
	assert.True(t, got.IsWeak())
	assert.True(t, h.InToPage(got.Address()))
	s.Process()
	s.Finalize()
}

func TestScavengeObject_ForwardedIsIdempotent(t *testing.T) {
	h := newTestHeap(t)
	r := newRoots(t, h, 3)
	obj := newArray(t, h, objects.MustSmi(7))
	for i := range 3 {
		r.set(i, obj)
	}
	flip(h)

	s := New(h)
	for i := range 3 {
		assert.Equal(t, KeepSlot, s.ScavengeObject(r.slot(i), obj))
	}
	assert.Equal(t, r.get(0), r.get(1))
	assert.Equal(t, r.get(0), r.get(2))
	s.Process()
	res := s.Finalize()
	assert.Equal(t, int64(objects.FixedArraySizeFor(1)), res.CopiedSize)
}

func TestScavengeObject_PromotionClassification(t *testing.T) {
	tests := []struct {
		name    string
		promote bool
		want    SlotCallbackResult
		space   memory.SpaceID
	}{
		{"copied stays young", false, KeepSlot, memory.NewSpace},
		{"promoted leaves young", true, RemoveSlot, memory.OldSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t)
			h.SetPromotionPolicy(func(memory.Address) bool { return tt.promote })
			r := newRoots(t, h, 1)
			r.set(0, newArray(t, h, objects.MustSmi(1)))
			flip(h)

			s := New(h)
			assert.Equal(t, tt.want, s.CheckAndScavengeObject(r.slot(0)))
			assert.Equal(t, tt.space, h.SpaceOf(r.get(0)))
			s.Process()
			s.Finalize()
		})
	}
}

func TestSemiSpaceCopy_FallsBackToPromotion(t *testing.T) {
	h := newTestHeap(t)
	r := newRoots(t, h, 1)
	r.set(0, newArray(t, h, objects.MustSmi(1)))
	flip(h)

	exhaust(New(h), memory.NewSpace)
	s := New(h)
	assert.Equal(t, RemoveSlot, s.CheckAndScavengeObject(r.slot(0)))
	assert.Equal(t, memory.OldSpace, h.SpaceOf(r.get(0)))
}

func TestPromoteObject_FallsBackToSemiSpace(t *testing.T) {
	h := newTestHeap(t)
	alwaysPromote(h)
	r := newRoots(t, h, 1)
	r.set(0, newArray(t, h, objects.MustSmi(1)))
	flip(h)

	exhaust(New(h), memory.OldSpace)
	s := New(h)
	assert.Equal(t, KeepSlot, s.CheckAndScavengeObject(r.slot(0)))
	assert.True(t, h.InToPage(r.get(0)))
}

func TestScavengeObject_OutOfMemoryIsFatal(t *testing.T) {
	var location string
	h := newTestHeap(t, func(c *heap.Config) {
		c.OnOutOfMemory = func(loc string) { location = loc }
	})
	r := newRoots(t, h, 1)
	r.set(0, newArray(t, h, objects.MustSmi(1), objects.MustSmi(2)))
	flip(h)

	filler := New(h)
	exhaust(filler, memory.NewSpace)
	exhaust(filler, memory.OldSpace)

	s := New(h)
	require.PanicsWithError(t, "fatal process out of memory: Scavenger: semi-space copy", func() {
		s.CheckAndScavengeObject(r.slot(0))
	})
	assert.Equal(t, "Scavenger: semi-space copy", location)
}

func TestMigrateObject_LoserAdoptsWinner(t *testing.T) {
	h := newTestHeap(t)
	r := newRoots(t, h, 2)
	obj := newArray(t, h, objects.MustSmi(5))
	r.set(0, obj)
	r.set(1, obj)
	flip(h)

	winner, loser := New(h), New(h)
	m := objects.MapFor(objects.FixedArrayMap)
	size := objects.FixedArraySizeFor(1)
	assert.Equal(t, SuccessYoung, winner.SemiSpaceCopy(m, r.slot(0), obj, size, objects.MaybePointers))

	// The loser still sees the original map, as if it read the header before
	// the winner forwarded it.
	target, err := loser.allocator.Allocate(memory.NewSpace, size, alloc.TaggedAligned)
	require.NoError(t, err)
	assert.False(t, loser.MigrateObject(m, obj, target, size))
	loser.allocator.FreeLast(memory.NewSpace, target, size)
	assert.Equal(t, SuccessYoung, loser.adoptWinner(r.slot(1), obj))

	assert.Equal(t, r.get(0), r.get(1))
	winner.Process()
	assert.Equal(t, int64(0), loser.Finalize().CopiedSize)
	assert.Equal(t, int64(size), winner.Finalize().CopiedSize)
}

func TestMigrateObject_TransfersMarkingColour(t *testing.T) {
	h := newTestHeap(t)
	alwaysPromote(h)
	r := newRoots(t, h, 2)
	marked := newArray(t, h)
	unmarked := newArray(t, h)
	r.set(0, marked)
	r.set(1, unmarked)
	require.True(t, h.Marking().TryMark(marked))

	h.StartIncrementalMarking()
	defer h.StopIncrementalMarking()
	collect(t, h, r.slots())

	assert.True(t, h.Marking().IsMarked(r.get(0)))
	assert.False(t, h.Marking().IsMarked(r.get(1)))
}

func TestEvacuationAllocator_FreeLast(t *testing.T) {
	h := newTestHeap(t)
	flip(h)
	a := NewEvacuationAllocator(h)

	x, err := a.Allocate(memory.NewSpace, 16, alloc.TaggedAligned)
	require.NoError(t, err)
	y, err := a.Allocate(memory.NewSpace, 16, alloc.TaggedAligned)
	require.NoError(t, err)

	a.FreeLast(memory.NewSpace, y, 16)
	z, err := a.Allocate(memory.NewSpace, 16, alloc.TaggedAligned)
	require.NoError(t, err)
	assert.Equal(t, y, z)

	a.FreeLast(memory.NewSpace, x, 16)
	m := objects.MapOf(h.Memory(), x)
	assert.True(t, objects.IsFiller(m))
	assert.Equal(t, 16, objects.Size(h.Memory(), x))

	a.Finalize()
	assert.Equal(t, z+16, h.NewSpace().Top())
}

func TestEvacuationAllocator_RejectsLargeSpaces(t *testing.T) {
	h := newTestHeap(t)
	a := NewEvacuationAllocator(h)
	assert.Panics(t, func() {
		_, _ = a.Allocate(memory.LargeObjectSpace, 16, alloc.TaggedAligned)
	})
}

func TestWorklist(t *testing.T) {
	var w Worklist[int]
	_, ok := w.Pop()
	assert.False(t, ok)

	w.Push(1)
	w.Push(2)
	assert.Equal(t, 2, w.Len())
	v, ok := w.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	w.Push(3)
	assert.Equal(t, 3, w.Pushed())

	v, _ = w.Pop()
	assert.Equal(t, 3, v)
	v, _ = w.Pop()
	assert.Equal(t, 1, v)
	assert.True(t, w.IsEmpty())
}
