package heap

import "github.com/joshuapare/heapkit/heap/memory"

// PendingScavenge holds what slots scavenged one at a time left behind for
// the end of their pass. The pass ends when the next collection starts.
type PendingScavenge struct {
	CopiedBytes           int64
	PromotedBytes         int64
	ScannedObjects        int
	SurvivingLargeObjects int
	EphemeronTables       []memory.Address
	// RememberedSlots still pointed into the young generation when they
	// were scavenged.
	RememberedSlots []memory.Address
	// Scavenged is set once any object was evacuated.
	Scavenged bool
}

// UpdatePendingScavenge runs fn on the pending record. Calls are serialized,
// so fn may also evacuate objects without racing another caller.
func (h *Heap) UpdatePendingScavenge(fn func(p *PendingScavenge)) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	fn(&h.pending)
}

// TakePendingScavenge returns the pending record and resets it. It returns
// nil when nothing was evacuated since the last call.
func (h *Heap) TakePendingScavenge() *PendingScavenge {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	if !h.pending.Scavenged {
		return nil
	}
	p := h.pending
	h.pending = PendingScavenge{}
	return &p
}
