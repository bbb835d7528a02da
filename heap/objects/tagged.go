package objects

import (
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
)

// Tagged is the content of one heap slot: a Smi, a strong or weak reference,
// or the cleared weak sentinel.
type Tagged uint32

// ClearedWeak is the value left behind by a cleared weak reference.
const ClearedWeak Tagged = format.ClearedWeakValue

// Smi encodes v as a small integer. Out-of-range values fail with ErrSmiRange.
func Smi(v int) (Tagged, error) {
	if v < format.SmiMinValue || v > format.SmiMaxValue {
		return 0, format.ErrSmiRange
	}
	return Tagged(uint32(int32(v) << format.SmiShift)), nil
}

// MustSmi is Smi for values known to be in range.
func MustSmi(v int) Tagged {
	t, err := Smi(v)
	if err != nil {
		panic(err)
	}
	return t
}

// StrongRef returns a strong reference to the object at a.
func StrongRef(a memory.Address) Tagged {
	return Tagged(a | format.HeapObjectTag)
}

// WeakRef returns a weak reference to the object at a.
func WeakRef(a memory.Address) Tagged {
	return Tagged(a | format.WeakHeapObjectTag)
}

func (t Tagged) IsSmi() bool { return t&format.SmiTagMask == format.SmiTag }

// SmiValue decodes a Smi. The result is meaningless for references.
func (t Tagged) SmiValue() int { return int(int32(t) >> format.SmiShift) }

func (t Tagged) IsStrong() bool { return t&format.HeapObjectTagMask == format.HeapObjectTag }

func (t Tagged) IsWeak() bool {
	return t&format.HeapObjectTagMask == format.WeakHeapObjectTag && t != ClearedWeak
}

func (t Tagged) IsCleared() bool { return t == ClearedWeak }

// IsHeapObject reports whether t refers to an object, strongly or weakly.
func (t Tagged) IsHeapObject() bool { return t.IsStrong() || t.IsWeak() }

// Address returns the referenced object.
func (t Tagged) Address() memory.Address {
	return memory.Address(t) &^ format.HeapObjectTagMask
}

// Retarget points t at a, keeping its strength.
func (t Tagged) Retarget(a memory.Address) Tagged {
	if t.IsWeak() {
		return WeakRef(a)
	}
	return StrongRef(a)
}

// LoadSlot reads a slot with acquire semantics.
func LoadSlot(mem *memory.Memory, slot memory.Address) Tagged {
	return Tagged(mem.AtomicLoad(slot))
}

// StoreSlot writes a slot with release semantics.
func StoreSlot(mem *memory.Memory, slot memory.Address, v Tagged) {
	mem.AtomicStore(slot, uint32(v))
}
