package objects

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/memory"
)

// ObjectVisitor receives the slots of an object body.
type ObjectVisitor interface {
	// VisitPointers is called for the strong-or-weak slot range [start, end).
	VisitPointers(host, start, end memory.Address)
	// VisitEphemeron is called for each key/value pair of an ephemeron table.
	VisitEphemeron(host memory.Address, index int, key, value memory.Address)
}

// IterateBody reports every pointer slot of obj to v. Headers are not slots.
func IterateBody(mem *memory.Memory, m *Map, obj memory.Address, size int, v ObjectVisitor) {
	switch m.Visitor {
	case VisitFixedArray:
		v.VisitPointers(obj, obj+ArrayHeaderSize, obj+memory.Address(size))
	case VisitShortcutCandidate:
		v.VisitPointers(obj, obj+ConsFirstOffset, obj+ConsStringSize)
	case VisitThinString:
		v.VisitPointers(obj, obj+ThinActualOffset, obj+ThinStringSize)
	case VisitEphemeronHashTable:
		n := smiField(mem, obj+LengthOffset)
		for i := range n {
			key, value := EphemeronSlots(obj, i)
			v.VisitEphemeron(obj, i, key, value)
		}
	case VisitDataObject, VisitFreeSpace, VisitSeqOneByteString, VisitSeqTwoByteString:
	default:
		panic(fmt.Sprintf("objects: unknown visitor %s", m.Visitor))
	}
}
