package scavenger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/pretenuring"
)

func TestCollect_CopiesLiveObjects(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	mem := h.Memory()
	r := newRoots(t, h, 3)

	num, err := f.NewHeapNumber(2.5, heap.Young)
	require.NoError(t, err)
	str := newString(t, h, "survivor")
	arr := newArray(t, h, objects.StrongRef(str), objects.MustSmi(9))
	r.set(0, num)
	r.set(1, arr)
	objects.StoreSlot(mem, r.slot(2), objects.MustSmi(5))
	_, err = f.NewFixedArray(10, heap.Young) // garbage
	require.NoError(t, err)

	stats := collect(t, h, r.slots())

	for i, before := range []memory.Address{num, arr} {
		assert.True(t, h.InToPage(r.get(i)), "root %d", i)
		assert.NotEqual(t, before, r.get(i))
	}
	assert.InDelta(t, 2.5, f.HeapNumberValue(r.get(0)), 0)
	copiedStr := objects.LoadSlot(mem, objects.ElementSlot(r.get(1), 0)).Address()
	assert.True(t, h.InToPage(copiedStr))
	requireString(t, h, "survivor", copiedStr)
	assert.Equal(t, 9, objects.LoadSlot(mem, objects.ElementSlot(r.get(1), 1)).SmiValue())
	assert.Equal(t, 5, r.load(2).SmiValue())

	want := objects.HeapNumberSize + objects.SeqStringSizeFor(8, true) + objects.FixedArraySizeFor(2)
	assert.Equal(t, int64(want), stats.CopiedBytes)
	assert.Zero(t, stats.PromotedBytes)
	assert.ElementsMatch(t, []memory.Address{r.slot(0), r.slot(1)}, stats.RememberedSlots)
	assert.Equal(t, h.NewSpace().Top(), h.NewSpace().AgeMark())
	assert.Equal(t, 1, stats.Cycle)
}

func TestCollect_PromotesSecondTimeSurvivors(t *testing.T) {
	h := newTestHeap(t)
	r := newRoots(t, h, 1)
	r.set(0, newArray(t, h, objects.MustSmi(1), objects.MustSmi(2)))
	c := NewCollector(h)

	first, err := c.Collect(r.slots())
	require.NoError(t, err)
	assert.Equal(t, memory.NewSpace, h.SpaceOf(r.get(0)))
	assert.Equal(t, int64(objects.FixedArraySizeFor(2)), first.CopiedBytes)

	// Objects allocated after the first cycle are above the age mark.
	r2 := newRoots(t, h, 2)
	r2.set(0, r.get(0))
	r2.set(1, newArray(t, h))

	second, err := c.Collect(r2.slots())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Cycle)
	assert.Equal(t, memory.OldSpace, h.SpaceOf(r2.get(0)))
	assert.Equal(t, memory.NewSpace, h.SpaceOf(r2.get(1)))
	assert.Equal(t, int64(objects.FixedArraySizeFor(2)), second.PromotedBytes)
	assert.Equal(t, []memory.Address{r2.slot(1)}, second.RememberedSlots)
	assert.Equal(t, 2, objects.LoadSlot(h.Memory(), objects.ElementSlot(r2.get(0), 1)).SmiValue())
}

func TestCollect_TwoWorkersSameObjectCountedOnce(t *testing.T) {
	h := newTestHeap(t, func(c *heap.Config) { c.Workers = 2 })
	alwaysPromote(h)
	r := newRoots(t, h, 2)
	x, err := h.Factory().NewFixedArray(8, heap.Young)
	require.NoError(t, err)
	require.Equal(t, 40, objects.Size(h.Memory(), x))
	r.set(0, x)
	r.set(1, x)

	stats := collect(t, h, r.slots())

	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, r.get(0), r.get(1))
	assert.Equal(t, memory.OldSpace, h.SpaceOf(r.get(0)))
	assert.Equal(t, int64(40), stats.PromotedBytes)
	assert.Zero(t, stats.CopiedBytes)
	assert.Empty(t, stats.RememberedSlots)
}

func TestCollect_WorkersAgreeOnDestinations(t *testing.T) {
	const (
		objectCount = 200
		refs        = 4
	)
	h := newTestHeap(t, func(c *heap.Config) { c.Workers = 4 })
	r := newRoots(t, h, objectCount*refs)
	for i := range objectCount {
		obj := newArray(t, h, objects.MustSmi(i))
		for j := range refs {
			r.set(i*refs+j, obj)
		}
	}

	stats := collect(t, h, r.slots())

	for i := range objectCount {
		dest := r.get(i * refs)
		require.True(t, h.InToPage(dest))
		for j := 1; j < refs; j++ {
			require.Equal(t, dest, r.get(i*refs+j), "object %d ref %d", i, j)
		}
		require.Equal(t, i, objects.LoadSlot(h.Memory(), objects.ElementSlot(dest, 0)).SmiValue())
	}
	assert.Equal(t, int64(objectCount*objects.FixedArraySizeFor(1)), stats.CopiedBytes)
	assert.Len(t, stats.RememberedSlots, objectCount*refs)
}

func TestCollect_TransitiveClosure(t *testing.T) {
	h := newTestHeap(t)
	mem := h.Memory()
	r := newRoots(t, h, 1)
	leaf := newString(t, h, "leaf")
	middle := newArray(t, h, objects.StrongRef(leaf))
	top := newArray(t, h, objects.StrongRef(middle), objects.StrongRef(middle))
	r.set(0, top)

	stats := collect(t, h, r.slots())
	assert.Equal(t, 2, stats.ScannedObjects, "the leaf string has no pointers to scan")

	newTop := r.get(0)
	m1 := objects.LoadSlot(mem, objects.ElementSlot(newTop, 0)).Address()
	m2 := objects.LoadSlot(mem, objects.ElementSlot(newTop, 1)).Address()
	assert.Equal(t, m1, m2)
	assert.True(t, h.InToPage(m1))
	requireString(t, h, "leaf", objects.LoadSlot(mem, objects.ElementSlot(m1, 0)).Address())
}

func TestCollect_PromotedObjectsRememberYoungSlots(t *testing.T) {
	h := newTestHeap(t)
	mem := h.Memory()
	r := newRoots(t, h, 1)
	child := newArray(t, h)
	parent := newArray(t, h, objects.StrongRef(child))
	r.set(0, parent)
	h.SetPromotionPolicy(func(obj memory.Address) bool { return obj == parent })

	stats := collect(t, h, r.slots())

	newParent := r.get(0)
	assert.Equal(t, memory.OldSpace, h.SpaceOf(newParent))
	childSlot := objects.ElementSlot(newParent, 0)
	assert.True(t, h.InToPage(objects.LoadSlot(mem, childSlot).Address()))
	assert.Equal(t, []memory.Address{childSlot}, stats.RememberedSlots)
}

func TestCollect_ConsStringShortcut(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	r := newRoots(t, h, 4)

	first := newString(t, h, "abc")
	cons, err := f.NewConsString(first, h.EmptyString(), heap.Young)
	require.NoError(t, err)
	nested, err := f.NewConsString(cons, h.EmptyString(), heap.Young)
	require.NoError(t, err)
	oldFirst, err := f.NewInternalizedString("old")
	require.NoError(t, err)
	consOfOld, err := f.NewConsString(oldFirst, h.EmptyString(), heap.Young)
	require.NoError(t, err)
	r.set(0, cons)
	r.set(1, nested)
	r.set(2, cons)
	r.set(3, consOfOld)

	stats := collect(t, h, r.slots())

	collapsed := r.get(0)
	assert.Equal(t, objects.MapFor(objects.SeqOneByteStringMap), objects.MapOf(h.Memory(), collapsed))
	assert.True(t, h.InToPage(collapsed))
	requireString(t, h, "abc", collapsed)
	assert.Equal(t, collapsed, r.get(1))
	assert.Equal(t, collapsed, r.get(2))
	assert.Equal(t, oldFirst, r.get(3))
	assert.Equal(t, int64(objects.SeqStringSizeFor(3, true)), stats.CopiedBytes)
	assert.ElementsMatch(t, []memory.Address{r.slot(0), r.slot(1), r.slot(2)}, stats.RememberedSlots)
}

func TestCollect_ConsStringKeptWhenNotCandidate(t *testing.T) {
	tests := []struct {
		name     string
		shortcut bool
		second   string
	}{
		{"non-empty second", true, "def"},
		{"shortcut disabled", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t, func(c *heap.Config) { c.ShortcutStrings = tt.shortcut })
			f := h.Factory()
			r := newRoots(t, h, 1)
			second := h.EmptyString()
			if tt.second != "" {
				second = newString(t, h, tt.second)
			}
			cons, err := f.NewConsString(newString(t, h, "abc"), second, heap.Young)
			require.NoError(t, err)
			r.set(0, cons)

			collect(t, h, r.slots())

			assert.Equal(t, objects.MapFor(objects.ConsStringMap), objects.MapOf(h.Memory(), r.get(0)))
			requireString(t, h, "abc"+tt.second, r.get(0))
		})
	}
}

func TestCollect_ThinStringShortcut(t *testing.T) {
	tests := []struct {
		name     string
		shortcut bool
	}{
		{"shortcut", true},
		{"no shortcut", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t, func(c *heap.Config) { c.ShortcutStrings = tt.shortcut })
			f := h.Factory()
			r := newRoots(t, h, 1)
			actual, err := f.NewInternalizedString("interned")
			require.NoError(t, err)
			thin, err := f.NewThinString(actual, heap.Young)
			require.NoError(t, err)
			r.set(0, thin)

			stats := collect(t, h, r.slots())

			requireString(t, h, "interned", r.get(0))
			if tt.shortcut {
				assert.Equal(t, actual, r.get(0))
				assert.Empty(t, stats.RememberedSlots)
				assert.Zero(t, stats.CopiedBytes)
			} else {
				assert.Equal(t, objects.MapFor(objects.ThinStringMap), objects.MapOf(h.Memory(), r.get(0)))
				assert.True(t, h.InToPage(r.get(0)))
			}
		})
	}
}

func TestCollect_SharedStringTablePromotesStringsToSharedSpace(t *testing.T) {
	h := newTestHeap(t, func(c *heap.Config) { c.SharedStringTable = true })
	alwaysPromote(h)
	r := newRoots(t, h, 2)
	r.set(0, newString(t, h, "shared"))
	r.set(1, newArray(t, h))

	collect(t, h, r.slots())

	assert.Equal(t, memory.SharedSpace, h.SpaceOf(r.get(0)))
	requireString(t, h, "shared", r.get(0))
	assert.Equal(t, memory.OldSpace, h.SpaceOf(r.get(1)))
}

func TestCollect_LargeObjectSurvivesInPlaceOnce(t *testing.T) {
	const count = 10
	h := newTestHeap(t, func(c *heap.Config) {
		c.ArenaPages = 128
		c.Workers = 2
	})
	f := h.Factory()
	length := (32*1024)/4 + 8
	r := newRoots(t, h, 2*count)
	large := make([]memory.Address, count)
	for i := range count {
		obj, err := f.NewFixedArray(length, heap.Young)
		require.NoError(t, err)
		require.True(t, h.IsLargeObject(obj))
		objects.StoreSlot(h.Memory(), objects.ElementSlot(obj, 0), objects.MustSmi(i))
		large[i] = obj
		r.set(2*i, obj)
		r.set(2*i+1, obj)
	}

	stats := collect(t, h, r.slots())

	assert.Equal(t, count, stats.SurvivingLargeObjects)
	assert.Equal(t, int64(count*objects.FixedArraySizeFor(length)), stats.PromotedBytes)
	for i, obj := range large {
		assert.Equal(t, obj, r.get(2*i))
		assert.Equal(t, obj, r.get(2*i+1))
		assert.Equal(t, memory.LargeObjectSpace, h.SpaceOf(obj))
		assert.Equal(t, objects.MapFor(objects.FixedArrayMap), objects.MapOf(h.Memory(), obj))
		assert.Equal(t, i, objects.LoadSlot(h.Memory(), objects.ElementSlot(obj, 0)).SmiValue())
	}
	assert.Zero(t, h.NewLargeObjectSpace().PageCount())
	assert.Equal(t, count, h.LargeObjectSpace().PageCount())
	assert.Empty(t, stats.RememberedSlots)
}

func TestCollect_LargeObjectKeepsYoungChildrenRemembered(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	r := newRoots(t, h, 1)
	large, err := f.NewFixedArray(10000, heap.Young)
	require.NoError(t, err)
	child := newString(t, h, "child")
	slot := objects.ElementSlot(large, 3)
	objects.StoreSlot(h.Memory(), slot, objects.StrongRef(child))
	r.set(0, large)

	stats := collect(t, h, r.slots())

	moved := objects.LoadSlot(h.Memory(), slot).Address()
	assert.True(t, h.InToPage(moved))
	requireString(t, h, "child", moved)
	assert.Equal(t, []memory.Address{slot}, stats.RememberedSlots)
}

func TestCollect_FreesDeadLargeObjects(t *testing.T) {
	h := newTestHeap(t)
	_, err := h.Factory().NewFixedArray(20000, heap.Young)
	require.NoError(t, err)
	require.Equal(t, 1, h.NewLargeObjectSpace().PageCount())
	free := h.PageAllocator().FreePages()

	stats := collect(t, h, nil)

	assert.Equal(t, int64(objects.FixedArraySizeFor(20000)), stats.FreedLargeBytes)
	assert.Zero(t, stats.SurvivingLargeObjects)
	assert.Zero(t, h.NewLargeObjectSpace().PageCount())
	assert.Greater(t, h.PageAllocator().FreePages(), free)
}

func TestCollect_ClearsDeadEphemerons(t *testing.T) {
	tests := []struct {
		name    string
		promote bool
	}{
		{"young table", false},
		{"promoted table", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t)
			h.SetPromotionPolicy(func(memory.Address) bool { return tt.promote })
			f := h.Factory()
			mem := h.Memory()
			r := newRoots(t, h, 2)

			table, err := f.NewEphemeronHashTable(2, heap.Young)
			require.NoError(t, err)
			liveKey := newArray(t, h)
			deadKey := newArray(t, h)
			value, err := f.NewHeapNumber(1.5, heap.Young)
			require.NoError(t, err)
			f.SetEphemeronEntry(table, 0, liveKey, objects.StrongRef(value))
			f.SetEphemeronEntry(table, 1, deadKey, objects.MustSmi(7))
			r.set(0, table)
			r.set(1, liveKey)

			stats := collect(t, h, r.slots())

			newTable := r.get(0)
			k0, v0 := objects.EphemeronSlots(newTable, 0)
			assert.Equal(t, r.get(1), objects.LoadSlot(mem, k0).Address())
			assert.InDelta(t, 1.5, f.HeapNumberValue(objects.LoadSlot(mem, v0).Address()), 0)

			k1, v1 := objects.EphemeronSlots(newTable, 1)
			assert.True(t, objects.LoadSlot(mem, k1).IsCleared())
			assert.Equal(t, objects.MustSmi(0), objects.LoadSlot(mem, v1))
			assert.Equal(t, 1, stats.ClearedEphemerons)
		})
	}
}

func TestCollect_PretenuresHotAllocationSite(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	site, err := f.NewAllocationSite()
	require.NoError(t, err)
	r := newRoots(t, h, pretenuring.MinMementoCount)
	for i := range pretenuring.MinMementoCount {
		arr, err := f.NewFixedArrayWithSite(1, site)
		require.NoError(t, err)
		r.set(i, arr)
	}

	stats := collect(t, h, r.slots())

	assert.Equal(t, 1, stats.NewlyTenuredSites)
	assert.Equal(t, pretenuring.Tenure, h.Pretenuring().DecisionOf(site))
	arr, err := f.NewFixedArrayWithSite(1, site)
	require.NoError(t, err)
	assert.Equal(t, memory.OldSpace, h.SpaceOf(arr))
}

func TestCollect_ColdAllocationSiteStaysYoung(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	site, err := f.NewAllocationSite()
	require.NoError(t, err)
	r := newRoots(t, h, 10)
	for i := range pretenuring.MinMementoCount {
		arr, err := f.NewFixedArrayWithSite(1, site)
		require.NoError(t, err)
		if i < 10 {
			r.set(i, arr)
		}
	}

	stats := collect(t, h, r.slots())

	assert.Zero(t, stats.NewlyTenuredSites)
	assert.Equal(t, pretenuring.DontTenure, h.Pretenuring().DecisionOf(site))
}

func TestCollect_EmptyYoungGeneration(t *testing.T) {
	h := newTestHeap(t)
	stats := collect(t, h, nil)
	assert.Equal(t, 1, stats.Workers)
	assert.Zero(t, stats.CopiedBytes)
	assert.Zero(t, stats.PromotedBytes)
	assert.Contains(t, stats.String(), "cycle 1")
}
