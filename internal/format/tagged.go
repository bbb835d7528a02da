package format

// Tagging scheme for 32-bit heap words.
//
//	xxxxxxx0  Smi: 31-bit signed integer shifted left by one
//	xxxxxx01  strong pointer to the heap object at (word &^ 3)
//	xxxxxx11  weak pointer to the heap object at (word &^ 3)
//	00000011  cleared weak reference
//
// Object headers reuse the same space: a map word has the heap-object tag
// (the map id sits above the tag bits) and a forwarding word is a raw,
// 4-aligned address, which has Smi tagging.
const (
	SmiTag            = 0
	SmiTagMask        = 1
	SmiShift          = 1
	HeapObjectTag     = 1
	WeakHeapObjectTag = 3
	HeapObjectTagMask = 3
	ClearedWeakValue  = WeakHeapObjectTag

	// SmiMaxValue and SmiMinValue bound the integers a Smi can hold.
	SmiMaxValue = 1<<30 - 1
	SmiMinValue = -(1 << 30)
)
