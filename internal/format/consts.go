// Package format holds the low-level layout constants of the heap: word and
// page geometry, object alignment and the tagging scheme used for every
// 32-bit word stored in the arena. It is kept free of any heap state so
// every other package can depend on it.
package format

const (
	// TaggedSize is the size of one heap word. Slots, headers and Smis all
	// occupy exactly one tagged word.
	TaggedSize = 4

	// TaggedSizeLog2 is log2(TaggedSize).
	TaggedSizeLog2 = 2

	// DoubleSize is the size of an unboxed float64 field.
	DoubleSize = 8

	// ObjectAlignment is the minimum allocation granularity. Every object
	// size and every object start is a multiple of it.
	ObjectAlignment = TaggedSize

	// ObjectAlignmentMask masks the bits below ObjectAlignment.
	ObjectAlignmentMask = ObjectAlignment - 1

	// DoubleAlignment is the alignment of unboxed float64 fields.
	DoubleAlignment = 8

	// DoubleAlignmentMask masks the bits below DoubleAlignment.
	DoubleAlignmentMask = DoubleAlignment - 1

	// HeaderSize is the size of the object header (the map word).
	HeaderSize = TaggedSize

	// MinObjectSize is the size of the smallest object (a one-word filler).
	MinObjectSize = TaggedSize
)

const (
	// PageSizeLog2 is log2(PageSize).
	PageSizeLog2 = 16

	// PageSize is the size of a regular heap page (64 KiB). Large pages are
	// multiples of it.
	PageSize = 1 << PageSizeLog2

	// PageAlignmentMask masks the offset of an address within its page.
	PageAlignmentMask = PageSize - 1

	// AllocatableMemoryInDataPage is the usable area of a regular page.
	// Page metadata lives outside the arena, so the whole page is usable.
	AllocatableMemoryInDataPage = PageSize

	// MaxRegularHeapObjectSize is the largest object that is allocated on a
	// regular page. Anything bigger goes to a large-object space.
	MaxRegularHeapObjectSize = AllocatableMemoryInDataPage / 2

	// MarkBitsPerCell is the number of mark bits held by one bitmap cell.
	MarkBitsPerCell = 32
)
