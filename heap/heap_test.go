package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/format"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*heap.Config)
	}{
		{"no semi-space", func(c *heap.Config) { c.SemiSpacePages = 0 }},
		{"no old space", func(c *heap.Config) { c.OldSpaceMaxPages = 0 }},
		{"arena too small", func(c *heap.Config) { c.ArenaPages = 2*c.SemiSpacePages + 1 }},
		{"unaligned gc lab", func(c *heap.Config) { c.LabSizeInGC = 1001 }},
		{"gc lab above page", func(c *heap.Config) { c.LabSizeInGC = 2 * format.PageSize }},
		{"no workers", func(c *heap.Config) { c.Workers = 0 }},
	}
	require.NoError(t, heap.DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := heap.DefaultConfig()
			tt.modify(&cfg)
			require.ErrorIs(t, cfg.Validate(), heap.ErrInvalidConfig)
			_, err := heap.New(cfg)
			require.ErrorIs(t, err, heap.ErrInvalidConfig)
		})
	}
}

func TestNew_EmptyStringIsOld(t *testing.T) {
	h := newTestHeap(t)

	empty := h.EmptyString()
	assert.Equal(t, memory.OldSpace, h.SpaceOf(empty))
	s, err := objects.StringValue(h.Memory(), empty)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestAllocateRaw_LargeObjectsGoToLargeObjectSpace(t *testing.T) {
	h := newTestHeap(t)

	young, err := h.AllocateRaw(format.MaxRegularHeapObjectSize+4, heap.Young, alloc.TaggedAligned)
	require.NoError(t, err)
	assert.True(t, h.IsLargeObject(young))
	assert.True(t, h.InYoungGeneration(young))
	assert.True(t, h.InToPage(young))
	assert.Equal(t, memory.NewLargeObjectSpace, h.SpaceOf(young))

	old, err := h.AllocateRaw(format.MaxRegularHeapObjectSize+4, heap.Old, alloc.TaggedAligned)
	require.NoError(t, err)
	assert.Equal(t, memory.LargeObjectSpace, h.SpaceOf(old))
	assert.False(t, h.InYoungGeneration(old))
}

func TestAllocateRaw_RejectsUnalignedSize(t *testing.T) {
	h := newTestHeap(t)

	for _, size := range []int{0, -4, 6} {
		_, err := h.AllocateRaw(size, heap.Young, alloc.TaggedAligned)
		require.ErrorIs(t, err, format.ErrUnaligned, "size %d", size)
	}
}

func TestQueries_FromAndToPages(t *testing.T) {
	h := newTestHeap(t)
	obj, err := h.Factory().NewFixedArray(2, heap.Young)
	require.NoError(t, err)
	assert.True(t, h.InToPage(obj))
	assert.False(t, h.InFromPage(obj))

	h.FreeLinearAllocationAreas()
	h.NewSpace().Flip()
	assert.True(t, h.InFromPage(obj))
	assert.False(t, h.InToPage(obj))
	assert.True(t, h.InYoungGeneration(obj))
	assert.False(t, h.InFromPage(memory.NullAddress))
}

func TestAllowedToBeMigrated(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	array, err := f.NewFixedArray(1, heap.Young)
	require.NoError(t, err)
	str, err := f.NewString("abc", heap.Young)
	require.NoError(t, err)
	oldArray, err := f.NewFixedArray(1, heap.Old)
	require.NoError(t, err)
	fixedArray := objects.MapFor(objects.FixedArrayMap)
	seqString := objects.MapFor(objects.SeqOneByteStringMap)

	assert.True(t, h.AllowedToBeMigrated(fixedArray, array, memory.NewSpace))
	assert.True(t, h.AllowedToBeMigrated(fixedArray, array, memory.OldSpace))
	assert.False(t, h.AllowedToBeMigrated(fixedArray, array, memory.SharedSpace))
	assert.False(t, h.AllowedToBeMigrated(seqString, str, memory.SharedSpace), "no shared string table")
	assert.False(t, h.AllowedToBeMigrated(fixedArray, oldArray, memory.NewSpace))
	assert.False(t, h.AllowedToBeMigrated(objects.MapFor(objects.FreeSpaceMap), array, memory.OldSpace))

	shared := newTestHeap(t, func(c *heap.Config) { c.SharedStringTable = true })
	str, err = shared.Factory().NewString("abc", heap.Young)
	require.NoError(t, err)
	assert.True(t, shared.AllowedToBeMigrated(seqString, str, memory.SharedSpace))
	assert.Equal(t, memory.SharedSpace, shared.SpaceOf(shared.EmptyString()))
}

func TestSetPromotionPolicy(t *testing.T) {
	h := newTestHeap(t)
	obj, err := h.Factory().NewFixedArray(1, heap.Young)
	require.NoError(t, err)
	h.FreeLinearAllocationAreas()
	h.NewSpace().Flip()
	assert.False(t, h.ShouldBePromoted(obj), "nothing is below a fresh age mark")

	h.SetPromotionPolicy(func(memory.Address) bool { return true })
	assert.True(t, h.ShouldBePromoted(obj))
	h.SetPromotionPolicy(nil)
	assert.False(t, h.ShouldBePromoted(obj))
}

func TestFatalProcessOutOfMemory(t *testing.T) {
	var reported string
	h := newTestHeap(t, func(c *heap.Config) {
		c.OnOutOfMemory = func(location string) { reported = location }
	})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		oom, ok := r.(*heap.OutOfMemoryError)
		require.True(t, ok, "panic value %T", r)
		assert.Equal(t, "fatal process out of memory: Scavenger: semi-space copy", oom.Error())
		assert.Equal(t, "Scavenger: semi-space copy", reported)
	}()
	h.FatalProcessOutOfMemory("Scavenger: semi-space copy")
}

func TestIterateObjects_NewSpacePage(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	_, err := f.NewFixedArray(2, heap.Young)
	require.NoError(t, err)
	_, err = f.NewString("abc", heap.Young)
	require.NoError(t, err)
	num, err := f.NewHeapNumber(2.5, heap.Young)
	require.NoError(t, err)
	h.FreeLinearAllocationAreas()

	var names []string
	h.IterateObjects(h.NewSpace().Pages()[0], func(_ memory.Address, m *objects.Map, _ int) bool {
		names = append(names, m.Name)
		return true
	})
	assert.Equal(t, []string{"FixedArray", "SeqOneByteString", "OnePointerFiller", "HeapNumber"}, names)
	assert.InDelta(t, 2.5, f.HeapNumberValue(num), 0)
	assert.False(t, format.IsDoubleAligned(num))
	assert.True(t, format.IsDoubleAligned(num+objects.HeapNumberValueOffset))
}

func TestIterateObjects_OldPageIsCovered(t *testing.T) {
	h := newTestHeap(t)
	h.FreeLinearAllocationAreas()

	p := h.OldSpace().Pages()[0]
	total := 0
	var first *objects.Map
	h.IterateObjects(p, func(_ memory.Address, m *objects.Map, size int) bool {
		if first == nil {
			first = m
		}
		total += size
		return true
	})
	assert.Equal(t, objects.MapFor(objects.InternalizedOneByteStringMap), first)
	assert.Equal(t, p.Size(), total)
}

func TestIterateObjects_StopsEarly(t *testing.T) {
	h := newTestHeap(t)
	for range 4 {
		_, err := h.Factory().NewFixedArray(1, heap.Young)
		require.NoError(t, err)
	}
	h.FreeLinearAllocationAreas()

	calls := 0
	h.IterateObjects(h.NewSpace().Pages()[0], func(memory.Address, *objects.Map, int) bool {
		calls++
		return calls < 2
	})
	assert.Equal(t, 2, calls)
}

func TestPublishPendingAllocations(t *testing.T) {
	h := newTestHeap(t)
	obj, err := h.Factory().NewFixedArray(1, heap.Young)
	require.NoError(t, err)
	a := h.Allocator(heap.Young)
	assert.True(t, a.IsPendingAllocation(obj))

	h.PublishPendingAllocations()
	assert.False(t, a.IsPendingAllocation(obj))
}

func TestMakeHeapIterable_KeepsLAB(t *testing.T) {
	h := newTestHeap(t)
	obj, err := h.Factory().NewFixedArray(1, heap.Young)
	require.NoError(t, err)
	a := h.Allocator(heap.Young)
	top := a.Top()

	h.MakeHeapIterable()
	assert.True(t, a.IsLabValid())
	assert.Equal(t, top, a.Top())
	assert.True(t, objects.IsFiller(objects.MapOf(h.Memory(), top)))
	assert.Equal(t, objects.MapFor(objects.FixedArrayMap), objects.MapOf(h.Memory(), obj))
}
