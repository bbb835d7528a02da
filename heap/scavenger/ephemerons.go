package scavenger

import (
	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
)

// ClearYoungEphemerons finishes the weak keys of tables after every worker
// is done. A key that was evacuated is updated to its new location; an
// entry whose key died is removed. Large survivors must still be forwarded
// to themselves when this runs. It returns the number of removed entries
// and the key slots of old (or about to be promoted large) tables that now
// point into new space.
func ClearYoungEphemerons(h *heap.Heap, tables []memory.Address) (cleared int, remembered []memory.Address) {
	mem := h.Memory()
	tableMap := objects.MapFor(objects.EphemeronHashTableMap)
	for _, table := range tables {
		// The table header may be a forwarding word if the table itself is a
		// large survivor, so its length is read without going through it.
		n := objects.Length(mem, table, tableMap)
		for i := range n {
			keySlot, valueSlot := objects.EphemeronSlots(table, i)
			key := objects.LoadSlot(mem, keySlot)
			if !key.IsHeapObject() || !h.InFromPage(key.Address()) {
				continue
			}
			w := objects.LoadMapWord(mem, key.Address())
			if !w.IsForwardingAddress() {
				objects.StoreSlot(mem, keySlot, objects.ClearedWeak)
				objects.StoreSlot(mem, valueSlot, objects.MustSmi(0))
				cleared++
				continue
			}
			dest := w.ToForwardingAddress()
			objects.StoreSlot(mem, keySlot, key.Retarget(dest))
			if h.SpaceOf(dest) == memory.NewSpace && (!h.InYoungGeneration(table) || h.IsLargeObject(table)) {
				remembered = append(remembered, keySlot)
			}
		}
	}
	return cleared, remembered
}
