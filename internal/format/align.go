package format

// Alignment helpers. All sizes in the heap are multiples of ObjectAlignment;
// pages are aligned to PageSize.

// ObjectAlign rounds n up to the next multiple of ObjectAlignment.
//
// Example:
//
//	ObjectAlign(1) = 4
//	ObjectAlign(4) = 4
//	ObjectAlign(5) = 8
func ObjectAlign(n int) int {
	return (n + ObjectAlignmentMask) & ^ObjectAlignmentMask
}

// IsObjectAligned reports whether n is a multiple of ObjectAlignment.
func IsObjectAligned(n int) bool {
	return n&ObjectAlignmentMask == 0
}

// RoundDownToObjectAlignment rounds n down to a multiple of ObjectAlignment.
func RoundDownToObjectAlignment(n int) int {
	return n & ^ObjectAlignmentMask
}

// AlignPage rounds n up to the next multiple of PageSize.
//
// Example:
//
//	AlignPage(1)     = 65536
//	AlignPage(65536) = 65536
//	AlignPage(65537) = 131072
func AlignPage(n int) int {
	return (n + PageAlignmentMask) & ^PageAlignmentMask
}

// IsDoubleAligned reports whether the address a is 8-byte aligned.
func IsDoubleAligned(a uint32) bool {
	return a&DoubleAlignmentMask == 0
}

// PageBase returns the start of the page containing a.
func PageBase(a uint32) uint32 {
	return a & ^uint32(PageAlignmentMask)
}
