package scavenger

import (
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
)

// SlotCallbackResult tells the caller whether a slot must stay in the
// remembered set.
type SlotCallbackResult uint8

const (
	// KeepSlot means the slot still points into the young generation and
	// has to be revisited by the next scavenge.
	KeepSlot SlotCallbackResult = iota
	// RemoveSlot means the slot no longer points at a young object.
	RemoveSlot
)

func (r SlotCallbackResult) String() string {
	if r == KeepSlot {
		return "keep"
	}
	return "remove"
}

// CopyAndForwardResult is the outcome of one relocation attempt.
type CopyAndForwardResult uint8

const (
	SuccessYoung CopyAndForwardResult = iota
	SuccessOld
	Failure
)

func (r CopyAndForwardResult) String() string {
	switch r {
	case SuccessYoung:
		return "success_young"
	case SuccessOld:
		return "success_old"
	default:
		return "failure"
	}
}

// PromotedEntry describes an object that moved into the old generation (or
// survived in place as a large object) and still has to be scanned. The map
// is carried along because the header at Target may be a forwarding word.
type PromotedEntry struct {
	Target memory.Address
	Map    *objects.Map
	Size   int
}

type copiedEntry struct {
	target memory.Address
	size   int
}

func slotResult(young bool) SlotCallbackResult {
	if young {
		return KeepSlot
	}
	return RemoveSlot
}

func copyResult(young bool) CopyAndForwardResult {
	if young {
		return SuccessYoung
	}
	return SuccessOld
}

func (r CopyAndForwardResult) slotResult() SlotCallbackResult {
	return slotResult(r == SuccessYoung)
}
