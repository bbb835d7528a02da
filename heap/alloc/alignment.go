package alloc

import (
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
)

// AllocationAlignment is the placement an object requires for its start address.
type AllocationAlignment uint8

const (
	// TaggedAligned objects start on any word boundary.
	TaggedAligned AllocationAlignment = iota
	// DoubleAligned objects start on an 8-byte boundary.
	DoubleAligned
	// DoubleUnaligned objects start 4 bytes past an 8-byte boundary, which
	// puts a double field that follows the header on an 8-byte boundary.
	DoubleUnaligned
)

func (a AllocationAlignment) String() string {
	switch a {
	case DoubleAligned:
		return "double_aligned"
	case DoubleUnaligned:
		return "double_unaligned"
	default:
		return "tagged_aligned"
	}
}

// GetMaximumFillToAlign returns the largest filler alignment can require.
func GetMaximumFillToAlign(alignment AllocationAlignment) int {
	switch alignment {
	case DoubleAligned, DoubleUnaligned:
		return format.DoubleSize - format.TaggedSize
	default:
		return 0
	}
}

// GetFillToAlign returns the filler size needed in front of an object placed
// at address to satisfy alignment.
func GetFillToAlign(address memory.Address, alignment AllocationAlignment) int {
	switch alignment {
	case DoubleAligned:
		if address&format.DoubleAlignmentMask != 0 {
			return format.TaggedSize
		}
	case DoubleUnaligned:
		if address&format.DoubleAlignmentMask == 0 {
			return format.TaggedSize
		}
	}
	return 0
}

// AllocationOrigin records who asked for memory.
type AllocationOrigin uint8

const (
	OriginRuntime AllocationOrigin = iota
	OriginGC
	OriginFromBuiltin
)

func (o AllocationOrigin) String() string {
	switch o {
	case OriginGC:
		return "gc"
	case OriginFromBuiltin:
		return "builtin"
	default:
		return "runtime"
	}
}
