package objects

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
)

// Field offsets, relative to the object start.
const (
	// FixedArray, ByteArray, FixedDoubleArray, EphemeronHashTable:
	// [map][length:smi][elements...]
	LengthOffset         = format.HeaderSize
	ArrayHeaderSize      = LengthOffset + format.TaggedSize
	EphemeronEntrySize   = 2 * format.TaggedSize
	EphemeronKeyOffset   = 0
	EphemeronValueOffset = format.TaggedSize

	// HeapNumber: [map][float64]
	HeapNumberValueOffset = format.HeaderSize
	HeapNumberSize        = HeapNumberValueOffset + format.DoubleSize

	// Strings: [map][hash][length:smi]...
	StringHashOffset    = format.HeaderSize
	StringLengthOffset  = StringHashOffset + format.TaggedSize
	SeqStringHeaderSize = StringLengthOffset + format.TaggedSize
	ConsFirstOffset     = SeqStringHeaderSize
	ConsSecondOffset    = ConsFirstOffset + format.TaggedSize
	ConsStringSize      = ConsSecondOffset + format.TaggedSize
	ThinActualOffset    = SeqStringHeaderSize
	ThinStringSize      = ThinActualOffset + format.TaggedSize

	// AllocationSite: [map][created:smi][found:smi][decision:smi]
	SiteCreatedOffset  = format.HeaderSize
	SiteFoundOffset    = SiteCreatedOffset + format.TaggedSize
	SiteDecisionOffset = SiteFoundOffset + format.TaggedSize
	AllocationSiteSize = SiteDecisionOffset + format.TaggedSize

	// AllocationMemento: [map][site:ref]
	MementoSiteOffset     = format.HeaderSize
	AllocationMementoSize = MementoSiteOffset + format.TaggedSize

	// FreeSpace: [map][size:smi][...]
	FreeSpaceSizeOffset = format.HeaderSize
)

func FixedArraySizeFor(length int) int       { return ArrayHeaderSize + length*format.TaggedSize }
func FixedDoubleArraySizeFor(length int) int { return ArrayHeaderSize + length*format.DoubleSize }
func ByteArraySizeFor(length int) int        { return format.ObjectAlign(ArrayHeaderSize + length) }
func EphemeronTableSizeFor(entries int) int  { return ArrayHeaderSize + entries*EphemeronEntrySize }

// SeqStringSizeFor returns the size of a sequential string of length
// characters.
func SeqStringSizeFor(length int, oneByte bool) int {
	if oneByte {
		return format.ObjectAlign(SeqStringHeaderSize + length)
	}
	return format.ObjectAlign(SeqStringHeaderSize + 2*length)
}

// ElementSlot returns the address of element i of a FixedArray.
func ElementSlot(array memory.Address, i int) memory.Address {
	return array + ArrayHeaderSize + memory.Address(i*format.TaggedSize)
}

// EphemeronSlots returns the key and value slots of entry i of an ephemeron
// table.
func EphemeronSlots(table memory.Address, i int) (key, value memory.Address) {
	entry := table + ArrayHeaderSize + memory.Address(i*EphemeronEntrySize)
	return entry + EphemeronKeyOffset, entry + EphemeronValueOffset
}

func smiField(mem *memory.Memory, a memory.Address) int {
	return Tagged(mem.Load(a)).SmiValue()
}

// Length returns the length field of an array or string.
func Length(mem *memory.Memory, obj memory.Address, m *Map) int {
	if m.Type.IsString() {
		return smiField(mem, obj+StringLengthOffset)
	}
	return smiField(mem, obj+LengthOffset)
}

// SizeFromMap returns the size of obj, whose map is m. The header of obj may
// already be forwarded; only the body is read.
func SizeFromMap(mem *memory.Memory, obj memory.Address, m *Map) int {
	if m.InstanceSize != 0 {
		return m.InstanceSize
	}
	switch m.Type {
	case FixedArrayType:
		return FixedArraySizeFor(smiField(mem, obj+LengthOffset))
	case EphemeronHashTableType:
		return EphemeronTableSizeFor(smiField(mem, obj+LengthOffset))
	case ByteArrayType:
		return ByteArraySizeFor(smiField(mem, obj+LengthOffset))
	case FixedDoubleArrayType:
		return FixedDoubleArraySizeFor(smiField(mem, obj+LengthOffset))
	case SeqOneByteStringType, InternalizedOneByteStringType:
		return SeqStringSizeFor(smiField(mem, obj+StringLengthOffset), true)
	case SeqTwoByteStringType, InternalizedTwoByteStringType:
		return SeqStringSizeFor(smiField(mem, obj+StringLengthOffset), false)
	case FreeSpaceType:
		return smiField(mem, obj+FreeSpaceSizeOffset)
	default:
		panic(fmt.Sprintf("objects: no size rule for %s", m.Name))
	}
}

// Size reads the map of obj and returns its size.
func Size(mem *memory.Memory, obj memory.Address) int {
	return SizeFromMap(mem, obj, MapOf(mem, obj))
}

// IsFiller reports whether m is one of the filler maps.
func IsFiller(m *Map) bool {
	return m.Visitor == VisitFreeSpace
}

// WriteFiller formats [a, a+size) as a filler object so the region can be
// walked.
func WriteFiller(mem *memory.Memory, a memory.Address, size int) {
	switch {
	case size == 0:
	case size == format.TaggedSize:
		SetMap(mem, a, maps[OnePointerFillerMap])
	case size == 2*format.TaggedSize:
		SetMap(mem, a, maps[TwoPointerFillerMap])
	default:
		SetMap(mem, a, maps[FreeSpaceMap])
		mem.Store(a+FreeSpaceSizeOffset, uint32(MustSmi(size)))
	}
}
