// Package scavenger implements the young-generation copying collector.
//
// A Scavenger is created per worker per collection. For every candidate slot
// it either follows an existing forwarding address or evacuates the referent:
// into to-space, into the old (or shared) generation, or in place for large
// objects. Workers race on object headers only; the header compare-and-swap
// decides which copy of an object wins, and losers give their speculative
// copy back.
//
// Collector drives a whole cycle: it flips the new space, runs the workers,
// merges their results and releases from-space.
package scavenger

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/pretenuring"
	"github.com/joshuapare/heapkit/internal/check"
	"github.com/joshuapare/heapkit/internal/format"
)

// Scavenger evacuates live young objects for one worker. It is not safe for
// concurrent use.
type Scavenger struct {
	heap      *heap.Heap
	mem       *memory.Memory
	allocator *EvacuationAllocator

	copied   Worklist[copiedEntry]
	promoted Worklist[PromotedEntry]

	ephemeronTables []memory.Address
	seenTables      map[memory.Address]struct{}
	remembered      []memory.Address
	survivingLarge  map[memory.Address]*objects.Map
	feedback        pretenuring.Feedback

	copiedSize   int64
	promotedSize int64

	shortcutStrings   bool
	sharedStringTable bool
	isMarking         bool

	youngVisitor    scavengeVisitor
	promotedVisitor scavengeVisitor
}

// Result is what a worker hands back to the collector after Finalize.
type Result struct {
	CopiedSize   int64
	PromotedSize int64
	// ScannedObjects counts evacuated objects whose bodies were scanned.
	ScannedObjects int
	// SurvivingLargeObjects maps every large object kept alive in place to
	// its map. The headers of these objects still hold a forwarding address
	// to themselves.
	SurvivingLargeObjects map[memory.Address]*objects.Map
	EphemeronTables       []memory.Address
	// RememberedSlots are slots of promoted objects that still point into
	// the young generation.
	RememberedSlots []memory.Address
	Feedback        pretenuring.Feedback
}

// New creates a Scavenger for one worker of the current collection. The new
// space must already be flipped.
func New(h *heap.Heap) *Scavenger {
	cfg := h.Config()
	s := &Scavenger{
		heap:              h,
		mem:               h.Memory(),
		allocator:         NewEvacuationAllocator(h),
		seenTables:        make(map[memory.Address]struct{}),
		survivingLarge:    make(map[memory.Address]*objects.Map),
		feedback:          make(pretenuring.Feedback),
		shortcutStrings:   cfg.ShortcutStrings,
		sharedStringTable: cfg.SharedStringTable,
		isMarking:         h.IsMarking(),
	}
	s.youngVisitor = scavengeVisitor{s: s}
	s.promotedVisitor = scavengeVisitor{s: s, recordSlots: true}
	return s
}

// CheckAndScavengeObject scavenges the referent of slot for an orchestrator
// that walks its own slots after flipping the new space. Calls are
// serialized on h. Large survivors are promoted and pretenuring feedback is
// merged before it returns; ephemeron tables and remembered slots are kept
// on h, and the next Collect finishes the pass before it flips again.
func CheckAndScavengeObject(h *heap.Heap, slot memory.Address) SlotCallbackResult {
	var result SlotCallbackResult
	h.UpdatePendingScavenge(func(p *heap.PendingScavenge) {
		s := New(h)
		result = s.CheckAndScavengeObject(slot)
		s.Process()
		r := s.Finalize()

		err := promoteLargeObjects(h, r.SurvivingLargeObjects)
		check.Check(err == nil, "scavenger: %v", err)
		h.Pretenuring().MergeAllocationSitePretenuringFeedback(r.Feedback)

		if r.CopiedSize+r.PromotedSize > 0 || len(r.EphemeronTables) > 0 || len(r.RememberedSlots) > 0 {
			p.Scavenged = true
		}
		p.CopiedBytes += r.CopiedSize
		p.PromotedBytes += r.PromotedSize
		p.ScannedObjects += r.ScannedObjects
		p.SurvivingLargeObjects += len(r.SurvivingLargeObjects)
		p.EphemeronTables = append(p.EphemeronTables, r.EphemeronTables...)
		p.RememberedSlots = append(p.RememberedSlots, r.RememberedSlots...)

		// A large survivor is old by now.
		if t := objects.LoadSlot(h.Memory(), slot); result == KeepSlot && !h.InYoungGeneration(t.Address()) {
			result = RemoveSlot
		}
	})
	return result
}

// CheckAndScavengeObject handles one candidate slot. Slots without a heap
// reference are dropped. Referents outside from-space are left alone: the
// slot is kept when it already points into to-space.
func (s *Scavenger) CheckAndScavengeObject(slot memory.Address) SlotCallbackResult {
	t := objects.LoadSlot(s.mem, slot)
	if !t.IsHeapObject() {
		return RemoveSlot
	}
	obj := t.Address()
	if s.heap.InFromPage(obj) {
		return s.ScavengeObject(slot, obj)
	}
	if s.heap.InToPage(obj) {
		// Duplicate slot already updated by this cycle.
		return KeepSlot
	}
	return RemoveSlot
}

// ScavengeObject evacuates the from-space object obj referenced by slot and
// points slot at its new location.
func (s *Scavenger) ScavengeObject(slot, obj memory.Address) SlotCallbackResult {
	check.DCheck(s.heap.InFromPage(obj), "scavenge of %#x outside from-space", obj)
	w := objects.LoadMapWord(s.mem, obj)
	if w.IsForwardingAddress() {
		dest := w.ToForwardingAddress()
		s.updateSlot(slot, dest)
		return slotResult(s.heap.InYoungGeneration(dest))
	}
	m := w.ToMap()
	check.Check(m != nil, "scavenger: corrupt header %s at %#x", w, obj)
	size := objects.SizeFromMap(s.mem, obj, m)

	switch m.Visitor {
	case objects.VisitThinString:
		return s.evacuateThinString(m, slot, obj, size)
	case objects.VisitShortcutCandidate:
		return s.evacuateShortcutCandidate(m, slot, obj, size)
	case objects.VisitSeqOneByteString, objects.VisitSeqTwoByteString:
		return s.evacuateInPlaceInternalizableString(m, slot, obj, size)
	case objects.VisitDataObject, objects.VisitFixedArray, objects.VisitEphemeronHashTable:
		return s.evacuateObjectDefault(m, slot, obj, size, memory.OldSpace)
	case objects.VisitFreeSpace:
		panic(fmt.Sprintf("scavenger: slot %#x references filler %s at %#x", slot, m, obj))
	default:
		panic(fmt.Sprintf("scavenger: unknown visitor %s for %s", m.Visitor, m))
	}
}

func (s *Scavenger) updateSlot(slot, target memory.Address) {
	t := objects.LoadSlot(s.mem, slot)
	objects.StoreSlot(s.mem, slot, t.Retarget(target))
}

func (s *Scavenger) evacuateThinString(m *objects.Map, slot, obj memory.Address, size int) SlotCallbackResult {
	if !s.shortcutStrings {
		return s.evacuateObjectDefault(m, slot, obj, size, memory.OldSpace)
	}
	actual := objects.LoadSlot(s.mem, obj+objects.ThinActualOffset).Address()
	check.DCheck(!s.heap.InYoungGeneration(actual), "thin string %#x points at young %#x", obj, actual)
	s.updateSlot(slot, actual)
	return RemoveSlot
}

// evacuateShortcutCandidate collapses a cons string whose second part is
// the empty string into its first part. The cons header is forwarded to
// wherever the first part ends up so every other reference collapses too.
func (s *Scavenger) evacuateShortcutCandidate(m *objects.Map, slot, obj memory.Address, size int) SlotCallbackResult {
	second := objects.LoadSlot(s.mem, obj+objects.ConsSecondOffset).Address()
	if !s.shortcutStrings || second != s.heap.EmptyString() {
		return s.evacuateObjectDefault(m, slot, obj, size, memory.OldSpace)
	}
	first := objects.LoadSlot(s.mem, obj+objects.ConsFirstOffset).Address()
	s.updateSlot(slot, first)
	if !s.heap.InYoungGeneration(first) {
		objects.SetMapWordForwarded(s.mem, obj, first)
		return RemoveSlot
	}
	var result SlotCallbackResult
	if s.heap.InFromPage(first) {
		result = s.ScavengeObject(slot, first)
	} else {
		result = KeepSlot
	}
	objects.SetMapWordForwarded(s.mem, obj, objects.LoadSlot(s.mem, slot).Address())
	return result
}

func (s *Scavenger) evacuateInPlaceInternalizableString(m *objects.Map, slot, obj memory.Address, size int) SlotCallbackResult {
	if s.sharedStringTable {
		return s.evacuateObjectDefault(m, slot, obj, size, memory.SharedSpace)
	}
	return s.evacuateObjectDefault(m, slot, obj, size, memory.OldSpace)
}

// evacuateObjectDefault relocates obj by size: large objects survive in
// place, others are copied within the young generation or promoted into
// promoteInto. Running out of every option is fatal.
func (s *Scavenger) evacuateObjectDefault(m *objects.Map, slot, obj memory.Address, size int, promoteInto memory.SpaceID) SlotCallbackResult {
	fields := m.ObjectFields()
	if s.heap.IsLargeObject(obj) {
		s.handleLargeObject(m, obj, size, fields)
		return KeepSlot
	}
	check.DCheck(size <= format.MaxRegularHeapObjectSize, "regular object %#x of %d bytes", obj, size)

	if !s.heap.ShouldBePromoted(obj) {
		if r := s.SemiSpaceCopy(m, slot, obj, size, fields); r != Failure {
			return r.slotResult()
		}
	}
	if r := s.PromoteObject(m, slot, obj, size, fields, promoteInto); r != Failure {
		return r.slotResult()
	}
	if r := s.SemiSpaceCopy(m, slot, obj, size, fields); r != Failure {
		return r.slotResult()
	}
	s.heap.FatalProcessOutOfMemory("Scavenger: semi-space copy")
	panic("unreachable")
}

// handleLargeObject keeps a young large object alive where it is. Only the
// worker whose compare-and-swap forwards the header to the object itself
// records it.
func (s *Scavenger) handleLargeObject(m *objects.Map, obj memory.Address, size int, fields objects.ObjectFields) {
	if !objects.CompareAndSwapMapWordForwarded(s.mem, obj, m, obj) {
		return
	}
	check.DCheck(s.heap.AllowedToBeMigrated(m, obj, memory.LargeObjectSpace), "large %s at %#x cannot be promoted", m, obj)
	s.survivingLarge[obj] = m
	s.promotedSize += int64(size)
	if fields == objects.MaybePointers {
		s.promoted.Push(PromotedEntry{Target: obj, Map: m, Size: size})
	}
}

// SemiSpaceCopy copies obj into to-space.
func (s *Scavenger) SemiSpaceCopy(m *objects.Map, slot, obj memory.Address, size int, fields objects.ObjectFields) CopyAndForwardResult {
	check.DCheck(s.heap.AllowedToBeMigrated(m, obj, memory.NewSpace), "%s at %#x cannot move to new space", m, obj)
	target, err := s.allocator.Allocate(memory.NewSpace, size, objects.RequiredAlignment(m))
	if err != nil {
		return Failure
	}
	if !s.MigrateObject(m, obj, target, size) {
		s.allocator.FreeLast(memory.NewSpace, target, size)
		return s.adoptWinner(slot, obj)
	}
	s.updateSlot(slot, target)
	s.copiedSize += int64(size)
	if fields == objects.MaybePointers {
		s.copied.Push(copiedEntry{target: target, size: size})
	}
	return SuccessYoung
}

// PromoteObject moves obj into space, the old or the shared space.
func (s *Scavenger) PromoteObject(m *objects.Map, slot, obj memory.Address, size int, fields objects.ObjectFields, space memory.SpaceID) CopyAndForwardResult {
	check.DCheck(s.heap.AllowedToBeMigrated(m, obj, space), "%s at %#x cannot move to %s", m, obj, space)
	target, err := s.allocator.Allocate(space, size, objects.RequiredAlignment(m))
	if err != nil {
		return Failure
	}
	if !s.MigrateObject(m, obj, target, size) {
		s.allocator.FreeLast(space, target, size)
		return s.adoptWinner(slot, obj)
	}
	s.updateSlot(slot, target)
	s.promotedSize += int64(size)
	if fields == objects.MaybePointers {
		s.promoted.Push(PromotedEntry{Target: target, Map: m, Size: size})
	}
	return SuccessOld
}

// adoptWinner points slot at the copy another worker installed for obj.
func (s *Scavenger) adoptWinner(slot, obj memory.Address) CopyAndForwardResult {
	w := objects.LoadMapWord(s.mem, obj)
	check.Check(w.IsForwardingAddress(), "scavenger: lost the race for %#x but header is %s", obj, w)
	dest := w.ToForwardingAddress()
	s.updateSlot(slot, dest)
	return copyResult(s.heap.InYoungGeneration(dest))
}

// MigrateObject copies obj to target and forwards the source header there.
// The copy is complete before the forwarding address is published, so any
// worker that observes the forwarding address also observes the payload.
// It returns false when another worker forwarded obj first; target is then
// garbage and the caller frees it.
func (s *Scavenger) MigrateObject(m *objects.Map, source, target memory.Address, size int) bool {
	objects.SetMap(s.mem, target, m)
	s.heap.CopyBlock(target+format.HeaderSize, source+format.HeaderSize, size-format.HeaderSize)
	if !objects.CompareAndSwapMapWordForwarded(s.mem, source, m, target) {
		return false
	}
	if s.isMarking {
		s.heap.Marking().TransferColor(source, target, size)
	}
	s.heap.Pretenuring().UpdateAllocationSite(m, source, size, s.feedback)
	return true
}

// Process scans copied and promoted objects until both lists are empty.
// Slots found while scanning are scavenged in turn, which may add more
// objects.
func (s *Scavenger) Process() {
	for {
		if e, ok := s.copied.Pop(); ok {
			objects.IterateBody(s.mem, objects.MapOf(s.mem, e.target), e.target, e.size, &s.youngVisitor)
			continue
		}
		if e, ok := s.promoted.Pop(); ok {
			objects.IterateBody(s.mem, e.Map, e.Target, e.Size, &s.promotedVisitor)
			continue
		}
		return
	}
}

// Finalize gives the worker's LABs back and returns its results. The
// Scavenger must not be used afterwards.
func (s *Scavenger) Finalize() Result {
	check.DCheck(s.copied.IsEmpty() && s.promoted.IsEmpty(), "finalize with %d copied and %d promoted entries pending",
		s.copied.Len(), s.promoted.Len())
	s.allocator.Finalize()
	return Result{
		CopiedSize:            s.copiedSize,
		PromotedSize:          s.promotedSize,
		ScannedObjects:        s.copied.Pushed() + s.promoted.Pushed(),
		SurvivingLargeObjects: s.survivingLarge,
		EphemeronTables:       s.ephemeronTables,
		RememberedSlots:       s.remembered,
		Feedback:              s.feedback,
	}
}

func (s *Scavenger) addEphemeronTable(table memory.Address) {
	if _, ok := s.seenTables[table]; ok {
		return
	}
	s.seenTables[table] = struct{}{}
	s.ephemeronTables = append(s.ephemeronTables, table)
}

// scavengeVisitor scavenges the slots of an evacuated object. For promoted
// objects it also remembers slots that keep pointing into the young
// generation.
type scavengeVisitor struct {
	s           *Scavenger
	recordSlots bool
}

func (v *scavengeVisitor) VisitPointers(_, start, end memory.Address) {
	for slot := start; slot < end; slot += format.TaggedSize {
		v.visitSlot(slot)
	}
}

func (v *scavengeVisitor) visitSlot(slot memory.Address) {
	t := objects.LoadSlot(v.s.mem, slot)
	if !t.IsHeapObject() || !v.s.heap.InYoungGeneration(t.Address()) {
		return
	}
	if v.s.CheckAndScavengeObject(slot) == KeepSlot && v.recordSlots {
		v.s.remembered = append(v.s.remembered, slot)
	}
}

// VisitEphemeron treats the value as strong. A young key is left for
// ClearYoungEphemerons, which runs once every worker is done.
func (v *scavengeVisitor) VisitEphemeron(host memory.Address, _ int, key, value memory.Address) {
	v.visitSlot(value)
	k := objects.LoadSlot(v.s.mem, key)
	if k.IsHeapObject() && v.s.heap.InYoungGeneration(k.Address()) {
		v.s.addEphemeronTable(host)
	}
}
