package heap

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/pretenuring"
	"github.com/joshuapare/heapkit/internal/format"
)

// Factory creates initialised objects. Every method returns an error
// wrapping alloc.ErrRetryAfterGC when the target space is full.
type Factory struct {
	heap *Heap
}

func (f *Factory) allocate(m *objects.Map, size int, t AllocationType) (memory.Address, error) {
	obj, err := f.heap.AllocateRaw(size, t, objects.RequiredAlignment(m))
	if err != nil {
		return memory.NullAddress, fmt.Errorf("allocate %s of %d bytes in %s: %w", m, size, t, err)
	}
	objects.SetMap(f.heap.mem, obj, m)
	return obj, nil
}

func (f *Factory) setSmi(a memory.Address, v int) {
	objects.StoreSlot(f.heap.mem, a, objects.MustSmi(v))
}

// NewFixedArray allocates an array of length Smi zeros.
func (f *Factory) NewFixedArray(length int, t AllocationType) (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.FixedArrayMap), objects.FixedArraySizeFor(length), t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.initFixedArray(obj, length)
	return obj, nil
}

func (f *Factory) initFixedArray(obj memory.Address, length int) {
	f.setSmi(obj+objects.LengthOffset, length)
	for i := range length {
		f.setSmi(objects.ElementSlot(obj, i), 0)
	}
}

// NewFixedArrayFrom allocates an array holding values.
func (f *Factory) NewFixedArrayFrom(values []objects.Tagged, t AllocationType) (memory.Address, error) {
	obj, err := f.NewFixedArray(len(values), t)
	if err != nil {
		return memory.NullAddress, err
	}
	for i, v := range values {
		objects.StoreSlot(f.heap.mem, objects.ElementSlot(obj, i), v)
	}
	return obj, nil
}

// NewByteArray allocates an array holding a copy of data.
func (f *Factory) NewByteArray(data []byte, t AllocationType) (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.ByteArrayMap), objects.ByteArraySizeFor(len(data)), t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.LengthOffset, len(data))
	copy(f.heap.mem.Bytes(obj+objects.ArrayHeaderSize, len(data)), data)
	return obj, nil
}

// NewFixedDoubleArray allocates a double-aligned array holding values.
func (f *Factory) NewFixedDoubleArray(values []float64, t AllocationType) (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.FixedDoubleArrayMap), objects.FixedDoubleArraySizeFor(len(values)), t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.LengthOffset, len(values))
	for i, v := range values {
		f.heap.mem.StoreFloat64(obj+objects.ArrayHeaderSize+memory.Address(i*format.DoubleSize), v)
	}
	return obj, nil
}

// NewHeapNumber allocates a boxed float64.
func (f *Factory) NewHeapNumber(v float64, t AllocationType) (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.HeapNumberMap), objects.HeapNumberSize, t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.heap.mem.StoreFloat64(obj+objects.HeapNumberValueOffset, v)
	return obj, nil
}

// HeapNumberValue reads the value of a HeapNumber.
func (f *Factory) HeapNumberValue(obj memory.Address) float64 {
	return f.heap.mem.LoadFloat64(obj + objects.HeapNumberValueOffset)
}

// NewString allocates a sequential string holding s, one byte per character
// when s fits Latin-1 and UTF-16 otherwise.
func (f *Factory) NewString(s string, t AllocationType) (memory.Address, error) {
	return f.newSeqString(s, t, false)
}

// NewInternalizedString allocates an internalized string in old space, or
// in the shared space when the shared string table is on.
func (f *Factory) NewInternalizedString(s string) (memory.Address, error) {
	t := Old
	if f.heap.cfg.SharedStringTable {
		t = SharedOld
	}
	return f.newSeqString(s, t, true)
}

func (f *Factory) newSeqString(s string, t AllocationType, internalized bool) (memory.Address, error) {
	oneByte := objects.IsOneByte(s)
	var (
		chars []byte
		err   error
		id    objects.MapID
	)
	switch {
	case oneByte && internalized:
		chars, err = objects.EncodeOneByte(s)
		id = objects.InternalizedOneByteStringMap
	case oneByte:
		chars, err = objects.EncodeOneByte(s)
		id = objects.SeqOneByteStringMap
	case internalized:
		chars, err = objects.EncodeTwoByte(s)
		id = objects.InternalizedTwoByteStringMap
	default:
		chars, err = objects.EncodeTwoByte(s)
		id = objects.SeqTwoByteStringMap
	}
	if err != nil {
		return memory.NullAddress, fmt.Errorf("new string: %w", err)
	}
	n := objects.CharCount(s, oneByte)
	obj, err := f.allocate(objects.MapFor(id), objects.SeqStringSizeFor(n, oneByte), t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.StringHashOffset, 0)
	f.setSmi(obj+objects.StringLengthOffset, n)
	copy(f.heap.mem.Bytes(obj+objects.SeqStringHeaderSize, len(chars)), chars)
	return obj, nil
}

func (f *Factory) stringLength(obj memory.Address) (int, error) {
	m := objects.MapOf(f.heap.mem, obj)
	if !m.Type.IsString() {
		return 0, fmt.Errorf("%w: %s at %#x", objects.ErrNotString, m, obj)
	}
	return objects.Length(f.heap.mem, obj, m), nil
}

// NewConsString allocates the concatenation of the strings first and
// second. A cons whose second part is the empty string is a shortcut
// candidate the scavenger may collapse.
func (f *Factory) NewConsString(first, second memory.Address, t AllocationType) (memory.Address, error) {
	n1, err := f.stringLength(first)
	if err != nil {
		return memory.NullAddress, err
	}
	n2, err := f.stringLength(second)
	if err != nil {
		return memory.NullAddress, err
	}
	obj, err := f.allocate(objects.MapFor(objects.ConsStringMap), objects.ConsStringSize, t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.StringHashOffset, 0)
	f.setSmi(obj+objects.StringLengthOffset, n1+n2)
	objects.StoreSlot(f.heap.mem, obj+objects.ConsFirstOffset, objects.StrongRef(first))
	objects.StoreSlot(f.heap.mem, obj+objects.ConsSecondOffset, objects.StrongRef(second))
	return obj, nil
}

// NewThinString allocates a forwarder to the internalized string actual.
func (f *Factory) NewThinString(actual memory.Address, t AllocationType) (memory.Address, error) {
	n, err := f.stringLength(actual)
	if err != nil {
		return memory.NullAddress, err
	}
	obj, err := f.allocate(objects.MapFor(objects.ThinStringMap), objects.ThinStringSize, t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.StringHashOffset, 0)
	f.setSmi(obj+objects.StringLengthOffset, n)
	objects.StoreSlot(f.heap.mem, obj+objects.ThinActualOffset, objects.StrongRef(actual))
	return obj, nil
}

// NewEphemeronHashTable allocates a table of entries empty key/value pairs.
func (f *Factory) NewEphemeronHashTable(entries int, t AllocationType) (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.EphemeronHashTableMap), objects.EphemeronTableSizeFor(entries), t)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.LengthOffset, entries)
	for i := range entries {
		key, value := objects.EphemeronSlots(obj, i)
		f.setSmi(key, 0)
		f.setSmi(value, 0)
	}
	return obj, nil
}

// SetEphemeronEntry stores the pair (key, value) at index i of table.
func (f *Factory) SetEphemeronEntry(table memory.Address, i int, key memory.Address, value objects.Tagged) {
	k, v := objects.EphemeronSlots(table, i)
	objects.StoreSlot(f.heap.mem, k, objects.StrongRef(key))
	objects.StoreSlot(f.heap.mem, v, value)
}

// NewAllocationSite allocates and registers a pretenuring site in old
// space.
func (f *Factory) NewAllocationSite() (memory.Address, error) {
	obj, err := f.allocate(objects.MapFor(objects.AllocationSiteMap), objects.AllocationSiteSize, Old)
	if err != nil {
		return memory.NullAddress, err
	}
	f.setSmi(obj+objects.SiteCreatedOffset, 0)
	f.setSmi(obj+objects.SiteFoundOffset, 0)
	f.setSmi(obj+objects.SiteDecisionOffset, int(pretenuring.Undecided))
	f.heap.pretenuring.RegisterSite(obj)
	return obj, nil
}

// NewFixedArrayWithSite allocates an array on behalf of site. Tenured sites
// get an old-space array; otherwise the array is young and followed by an
// AllocationMemento pointing back at site.
func (f *Factory) NewFixedArrayWithSite(length int, site memory.Address) (memory.Address, error) {
	if f.heap.pretenuring.DecisionOf(site) == pretenuring.Tenure {
		return f.NewFixedArray(length, Old)
	}
	size := objects.FixedArraySizeFor(length)
	if size+objects.AllocationMementoSize > format.MaxRegularHeapObjectSize {
		return f.NewFixedArray(length, Young)
	}
	obj, err := f.allocate(objects.MapFor(objects.FixedArrayMap), size+objects.AllocationMementoSize, Young)
	if err != nil {
		return memory.NullAddress, err
	}
	f.initFixedArray(obj, length)
	memento := obj + memory.Address(size)
	objects.SetMap(f.heap.mem, memento, objects.MapFor(objects.AllocationMementoMap))
	objects.StoreSlot(f.heap.mem, memento+objects.MementoSiteOffset, objects.StrongRef(site))
	f.heap.pretenuring.IncrementCreated(site)
	return obj, nil
}
