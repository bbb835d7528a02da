// Package objects describes the shapes of heap objects: their maps, header
// words, tagged values, sizes and the pointer slots inside their bodies.
package objects

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/alloc"
)

// InstanceType identifies the layout family of an object.
type InstanceType uint8

const (
	FreeSpaceType InstanceType = iota
	FillerType
	FixedArrayType
	EphemeronHashTableType
	ByteArrayType
	FixedDoubleArrayType
	HeapNumberType
	SeqOneByteStringType
	SeqTwoByteStringType
	InternalizedOneByteStringType
	InternalizedTwoByteStringType
	ConsStringType
	ThinStringType
	AllocationSiteType
	AllocationMementoType
)

// IsString reports whether t is any string representation.
func (t InstanceType) IsString() bool {
	return t >= SeqOneByteStringType && t <= ThinStringType
}

// IsInternalized reports whether t is an internalized string.
func (t InstanceType) IsInternalized() bool {
	return t == InternalizedOneByteStringType || t == InternalizedTwoByteStringType
}

// IsSequentialString reports whether t stores its characters inline.
func (t InstanceType) IsSequentialString() bool {
	return t >= SeqOneByteStringType && t <= InternalizedTwoByteStringType
}

// IsOneByteString reports whether characters are stored one byte each.
func (t InstanceType) IsOneByteString() bool {
	return t == SeqOneByteStringType || t == InternalizedOneByteStringType
}

// VisitorID selects the evacuation and body-iteration routine for a map.
type VisitorID uint8

const (
	VisitDataObject VisitorID = iota
	VisitFreeSpace
	VisitFixedArray
	VisitEphemeronHashTable
	VisitSeqOneByteString
	VisitSeqTwoByteString
	VisitShortcutCandidate
	VisitThinString
)

func (v VisitorID) String() string {
	switch v {
	case VisitDataObject:
		return "DataObject"
	case VisitFreeSpace:
		return "FreeSpace"
	case VisitFixedArray:
		return "FixedArray"
	case VisitEphemeronHashTable:
		return "EphemeronHashTable"
	case VisitSeqOneByteString:
		return "SeqOneByteString"
	case VisitSeqTwoByteString:
		return "SeqTwoByteString"
	case VisitShortcutCandidate:
		return "ShortcutCandidate"
	case VisitThinString:
		return "ThinString"
	default:
		return fmt.Sprintf("Visitor(%d)", uint8(v))
	}
}

// ObjectFields tells the evacuator whether the body of an object needs to be
// scanned after it is promoted.
type ObjectFields uint8

const (
	DataOnly ObjectFields = iota
	MaybePointers
)

// ObjectFieldsFrom classifies a visitor id.
func ObjectFieldsFrom(v VisitorID) ObjectFields {
	switch v {
	case VisitDataObject, VisitFreeSpace, VisitSeqOneByteString, VisitSeqTwoByteString:
		return DataOnly
	default:
		return MaybePointers
	}
}

// MapID is the value stored in a header word above the tag bits.
type MapID uint16

const (
	FreeSpaceMap MapID = iota + 1
	OnePointerFillerMap
	TwoPointerFillerMap
	FixedArrayMap
	EphemeronHashTableMap
	ByteArrayMap
	FixedDoubleArrayMap
	HeapNumberMap
	SeqOneByteStringMap
	SeqTwoByteStringMap
	InternalizedOneByteStringMap
	InternalizedTwoByteStringMap
	ConsStringMap
	ThinStringMap
	AllocationSiteMap
	AllocationMementoMap

	mapCount
)

// Map is the immutable shape descriptor referenced by every object header.
type Map struct {
	ID           MapID
	Name         string
	Type         InstanceType
	Visitor      VisitorID
	InstanceSize int // 0 for variable-sized objects
	Alignment    alloc.AllocationAlignment
}

// ObjectFields classifies the map's body.
func (m *Map) ObjectFields() ObjectFields { return ObjectFieldsFrom(m.Visitor) }

func (m *Map) String() string { return m.Name }

var maps = [mapCount]*Map{
	FreeSpaceMap:                 {FreeSpaceMap, "FreeSpace", FreeSpaceType, VisitFreeSpace, 0, alloc.TaggedAligned},
	OnePointerFillerMap:          {OnePointerFillerMap, "OnePointerFiller", FillerType, VisitFreeSpace, 4, alloc.TaggedAligned},
	TwoPointerFillerMap:          {TwoPointerFillerMap, "TwoPointerFiller", FillerType, VisitFreeSpace, 8, alloc.TaggedAligned},
	FixedArrayMap:                {FixedArrayMap, "FixedArray", FixedArrayType, VisitFixedArray, 0, alloc.TaggedAligned},
	EphemeronHashTableMap:        {EphemeronHashTableMap, "EphemeronHashTable", EphemeronHashTableType, VisitEphemeronHashTable, 0, alloc.TaggedAligned},
	ByteArrayMap:                 {ByteArrayMap, "ByteArray", ByteArrayType, VisitDataObject, 0, alloc.TaggedAligned},
	FixedDoubleArrayMap:          {FixedDoubleArrayMap, "FixedDoubleArray", FixedDoubleArrayType, VisitDataObject, 0, alloc.DoubleAligned},
	HeapNumberMap:                {HeapNumberMap, "HeapNumber", HeapNumberType, VisitDataObject, HeapNumberSize, alloc.DoubleUnaligned},
	SeqOneByteStringMap:          {SeqOneByteStringMap, "SeqOneByteString", SeqOneByteStringType, VisitSeqOneByteString, 0, alloc.TaggedAligned},
	SeqTwoByteStringMap:          {SeqTwoByteStringMap, "SeqTwoByteString", SeqTwoByteStringType, VisitSeqTwoByteString, 0, alloc.TaggedAligned},
	InternalizedOneByteStringMap: {InternalizedOneByteStringMap, "InternalizedOneByteString", InternalizedOneByteStringType, VisitSeqOneByteString, 0, alloc.TaggedAligned},
	InternalizedTwoByteStringMap: {InternalizedTwoByteStringMap, "InternalizedTwoByteString", InternalizedTwoByteStringType, VisitSeqTwoByteString, 0, alloc.TaggedAligned},
	ConsStringMap:                {ConsStringMap, "ConsString", ConsStringType, VisitShortcutCandidate, ConsStringSize, alloc.TaggedAligned},
	ThinStringMap:                {ThinStringMap, "ThinString", ThinStringType, VisitThinString, ThinStringSize, alloc.TaggedAligned},
	AllocationSiteMap:            {AllocationSiteMap, "AllocationSite", AllocationSiteType, VisitDataObject, AllocationSiteSize, alloc.TaggedAligned},
	AllocationMementoMap:         {AllocationMementoMap, "AllocationMemento", AllocationMementoType, VisitDataObject, AllocationMementoSize, alloc.TaggedAligned},
}

// MapFor returns the descriptor for id, or nil when id is unknown.
func MapFor(id MapID) *Map {
	if id == 0 || id >= mapCount {
		return nil
	}
	return maps[id]
}

// RequiredAlignment returns the placement the map's instances need.
func RequiredAlignment(m *Map) alloc.AllocationAlignment {
	return m.Alignment
}

// CanTrackAllocationSite reports whether instances of m may be followed by an
// allocation memento.
func CanTrackAllocationSite(m *Map) bool {
	return m.Type == FixedArrayType || m.Type == FixedDoubleArrayType
}
