package heap

import (
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/logger"
)

// IsMarking reports whether incremental marking is running.
func (h *Heap) IsMarking() bool { return h.incrementalMarking.Load() }

// BlackAllocation reports whether old-generation allocations are marked
// live on creation. It is on for the whole marking cycle.
func (h *Heap) BlackAllocation() bool { return h.IsMarking() }

// StartIncrementalMarking begins a marking cycle. Live old-generation LABs
// turn black so objects allocated from them survive the cycle.
func (h *Heap) StartIncrementalMarking() {
	if !h.incrementalMarking.CompareAndSwap(false, true) {
		return
	}
	for _, a := range []*alloc.MainAllocator{h.oldAllocator, h.sharedAllocator} {
		if a.IsLabValid() && a.IsBlackAllocationEnabled() {
			a.MarkLinearAllocationAreaBlack()
		}
	}
	logger.Info("incremental marking started", "old_generation", h.OldGenerationSize())
}

// StopIncrementalMarking ends the marking cycle and clears the black part of
// live LABs.
func (h *Heap) StopIncrementalMarking() {
	if !h.IsMarking() {
		return
	}
	for _, a := range []*alloc.MainAllocator{h.oldAllocator, h.sharedAllocator} {
		if a.BlackAllocationMode() == alloc.EnabledOnMarking {
			a.UnmarkLinearAllocationArea()
		}
	}
	h.incrementalMarking.Store(false)
	logger.Info("incremental marking stopped")
}

// StartIncrementalMarkingIfAllocationLimitIsReached starts marking once the
// old generation has outgrown Config.OldGenerationAllocationLimit.
func (h *Heap) StartIncrementalMarkingIfAllocationLimitIsReached(origin alloc.AllocationOrigin) {
	limit := h.cfg.OldGenerationAllocationLimit
	if limit == 0 || h.IsMarking() {
		return
	}
	if size := h.OldGenerationSize(); size >= limit {
		logger.Debug("old generation allocation limit reached", "size", size, "limit", limit, "origin", origin)
		h.StartIncrementalMarking()
	}
}

// CreateBlackArea marks [start, end) live and accounts it on its page.
func (h *Heap) CreateBlackArea(start, end memory.Address) {
	h.marking.MarkRange(start, end)
	h.pages.PageOf(start).IncrementLiveBytes(int64(end - start))
}

// DestroyBlackArea undoes CreateBlackArea.
func (h *Heap) DestroyBlackArea(start, end memory.Address) {
	h.marking.ClearRange(start, end)
	h.pages.PageOf(start).IncrementLiveBytes(-int64(end - start))
}
