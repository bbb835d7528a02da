package scavenger

import (
	"fmt"
	"sync"
	"time"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/check"
	"github.com/joshuapare/heapkit/internal/logger"
)

// Collector runs young-generation collections on a heap with
// Config.Workers parallel scavengers. It only drives the phases of one
// cycle; deciding when to collect is up to the caller.
type Collector struct {
	heap   *heap.Heap
	cycles int
}

func NewCollector(h *heap.Heap) *Collector {
	return &Collector{heap: h}
}

// Stats describes one collection.
type Stats struct {
	// Cycle numbers collections of this Collector from 1.
	Cycle   int
	Workers int
	Slots   int

	// CopiedBytes were evacuated within the young generation.
	CopiedBytes int64
	// PromotedBytes moved into the old or shared generation, large
	// survivors included.
	PromotedBytes int64
	// ScannedObjects is the number of evacuated objects whose bodies
	// were scanned for further young references.
	ScannedObjects int

	SurvivingLargeObjects int
	FreedLargeBytes       int64
	ClearedEphemerons     int
	NewlyTenuredSites     int

	// RememberedSlots are the input slots and slots of promoted objects that
	// still point into the young generation after the collection.
	RememberedSlots []memory.Address

	Duration time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("cycle %d: %d slots, copied %d, promoted %d, %d scanned, %d large survivors, freed large %d, %d ephemerons cleared, %d remembered, %s",
		s.Cycle, s.Slots, s.CopiedBytes, s.PromotedBytes, s.ScannedObjects, s.SurvivingLargeObjects, s.FreedLargeBytes,
		s.ClearedEphemerons, len(s.RememberedSlots), s.Duration)
}

// Collect evacuates everything reachable from slots out of the young
// generation. Slots are roots or remembered-set entries; each is visited by
// exactly one worker. On return the young generation holds only survivors,
// from-space is released and the age mark sits at the new-space top.
func (c *Collector) Collect(slots []memory.Address) (*Stats, error) {
	h := c.heap
	start := time.Now()
	c.cycles++

	stats := &Stats{Cycle: c.cycles}
	h.FreeLinearAllocationAreas()
	if p := h.TakePendingScavenge(); p != nil {
		slots = uniqueSlots(append(c.finishPending(stats, p), slots...))
	}
	h.NewSpace().Flip()
	h.NewLargeObjectSpace().Flip()
	logger.Debug("scavenge started", "cycle", c.cycles, "slots", len(slots),
		"from_pages", len(h.NewSpace().FromPages()), "young_large_pages", h.NewLargeObjectSpace().PageCount())

	workers := max(1, min(h.Config().Workers, len(slots)))
	results := make([]Result, workers)
	kept := make([][]memory.Address, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func(w int) {
			defer wg.Done()
			s := New(h)
			for i := w; i < len(slots); i += workers {
				if s.CheckAndScavengeObject(slots[i]) == KeepSlot {
					kept[w] = append(kept[w], slots[i])
				}
			}
			s.Process()
			results[w] = s.Finalize()
		}(w)
	}
	wg.Wait()

	stats.Workers, stats.Slots = workers, len(slots)
	survivors := make(map[memory.Address]*objects.Map)
	var tables []memory.Address
	for w, r := range results {
		stats.CopiedBytes += r.CopiedSize
		stats.PromotedBytes += r.PromotedSize
		stats.ScannedObjects += r.ScannedObjects
		for obj, m := range r.SurvivingLargeObjects {
			_, dup := survivors[obj]
			check.Check(!dup, "large object %#x recorded by two workers", obj)
			survivors[obj] = m
		}
		tables = append(tables, r.EphemeronTables...)
		stats.RememberedSlots = append(stats.RememberedSlots, kept[w]...)
		stats.RememberedSlots = append(stats.RememberedSlots, r.RememberedSlots...)
		h.Pretenuring().MergeAllocationSitePretenuringFeedback(r.Feedback)
	}

	cleared, remembered := ClearYoungEphemerons(h, tables)
	stats.ClearedEphemerons += cleared
	stats.RememberedSlots = append(stats.RememberedSlots, remembered...)

	if err := promoteLargeObjects(h, survivors); err != nil {
		return nil, err
	}
	stats.SurvivingLargeObjects += len(survivors)
	stats.FreedLargeBytes += h.NewLargeObjectSpace().FreeDeadObjects(h.InFromPage)

	stats.NewlyTenuredSites += h.Pretenuring().ProcessPretenuringFeedback()

	h.NewSpace().ReleaseFromSpace()
	h.NewSpace().SetAgeMark(h.NewSpace().Top())
	stats.RememberedSlots = c.filterRemembered(stats.RememberedSlots)
	stats.Duration = time.Since(start)

	logger.Info("scavenge finished", "cycle", stats.Cycle, "workers", workers,
		"copied", stats.CopiedBytes, "promoted", stats.PromotedBytes, "scanned", stats.ScannedObjects,
		"large_survivors", stats.SurvivingLargeObjects, "freed_large", stats.FreedLargeBytes,
		"ephemerons_cleared", stats.ClearedEphemerons, "tenured_sites", stats.NewlyTenuredSites,
		"remembered", len(stats.RememberedSlots), "duration", stats.Duration)
	return stats, nil
}

// finishPending ends a pass driven through the package-level
// CheckAndScavengeObject and returns its remembered slots, which become
// roots of the collection that follows.
func (c *Collector) finishPending(stats *Stats, p *heap.PendingScavenge) []memory.Address {
	h := c.heap
	stats.CopiedBytes += p.CopiedBytes
	stats.PromotedBytes += p.PromotedBytes
	stats.ScannedObjects += p.ScannedObjects
	stats.SurvivingLargeObjects += p.SurvivingLargeObjects

	cleared, remembered := ClearYoungEphemerons(h, p.EphemeronTables)
	stats.ClearedEphemerons += cleared
	stats.FreedLargeBytes += h.NewLargeObjectSpace().FreeDeadObjects(h.InFromPage)
	stats.NewlyTenuredSites += h.Pretenuring().ProcessPretenuringFeedback()

	h.NewSpace().ReleaseFromSpace()
	h.NewSpace().SetAgeMark(h.NewSpace().Top())
	logger.Debug("pending scavenge finished", "copied", p.CopiedBytes, "promoted", p.PromotedBytes,
		"large_survivors", p.SurvivingLargeObjects, "ephemerons_cleared", cleared)
	return c.filterRemembered(append(p.RememberedSlots, remembered...))
}

// promoteLargeObjects moves the pages of large survivors into the old
// large-object space and then restores their headers. Once the header holds
// a map again the page is no longer from-space, so no worker forwards the
// object a second time.
func promoteLargeObjects(h *heap.Heap, survivors map[memory.Address]*objects.Map) error {
	for obj, m := range survivors {
		p := h.PageAllocator().PageOf(obj)
		if err := h.LargeObjectSpace().PromoteNewLargeObject(h.NewLargeObjectSpace(), p); err != nil {
			return fmt.Errorf("scavenge: %w", err)
		}
		objects.RestoreMap(h.Memory(), obj, m)
	}
	return nil
}

// uniqueSlots drops repeated slots so that no two workers share one.
func uniqueSlots(slots []memory.Address) []memory.Address {
	seen := make(map[memory.Address]struct{}, len(slots))
	out := make([]memory.Address, 0, len(slots))
	for _, slot := range slots {
		if _, ok := seen[slot]; !ok {
			seen[slot] = struct{}{}
			out = append(out, slot)
		}
	}
	return out
}

// filterRemembered drops duplicates and slots whose referent left the young
// generation after being recorded.
func (c *Collector) filterRemembered(slots []memory.Address) []memory.Address {
	seen := make(map[memory.Address]struct{}, len(slots))
	out := slots[:0]
	for _, slot := range slots {
		if _, ok := seen[slot]; ok {
			continue
		}
		seen[slot] = struct{}{}
		t := objects.LoadSlot(c.heap.Memory(), slot)
		if t.IsHeapObject() && c.heap.InYoungGeneration(t.Address()) {
			out = append(out, slot)
		}
	}
	return out
}
