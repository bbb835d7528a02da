package spaces

import (
	"container/heap"

	"github.com/joshuapare/heapkit/heap/memory"
)

// freeBlock is a free region of a paged space.
type freeBlock struct {
	addr      memory.Address
	size      int
	heapIndex int
}

// freeBlockHeap is a min-heap keyed on block size, so heap[0] of a size
// class is its best fit.
type freeBlockHeap []*freeBlock

func (h *freeBlockHeap) Len() int { return len(*h) }

func (h *freeBlockHeap) Less(i, j int) bool {
	return (*h)[i].size < (*h)[j].size
}

func (h *freeBlockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeBlockHeap) Push(x any) {
	b := x.(*freeBlock) //nolint:errcheck // heap.Interface contract guarantees type
	b.heapIndex = len(*h)
	*h = append(*h, b)
}

func (h *freeBlockHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	b.heapIndex = -1
	*h = old[:n-1]
	return b
}

// FreeList is a segregated free list: one min-heap per size class plus an
// unsorted list for large blocks. It is not synchronised; the owning space
// holds its lock.
type FreeList struct {
	classes   *sizeClassTable
	lists     []freeBlockHeap
	large     []*freeBlock
	available int
	wasted    int
}

// NewFreeList creates an empty free list.
func NewFreeList(config SizeClassConfig) *FreeList {
	classes := newSizeClassTable(config)
	return &FreeList{
		classes: classes,
		lists:   make([]freeBlockHeap, classes.numClasses()),
	}
}

// MinBlockSize returns the smallest block the list keeps.
func (fl *FreeList) MinBlockSize() int { return fl.classes.config.SmallMin }

// Available returns the bytes held by the list.
func (fl *FreeList) Available() int { return fl.available }

// Wasted returns the bytes of blocks too small to be kept.
func (fl *FreeList) Wasted() int { return fl.wasted }

// Free adds [addr, addr+size) to the list. Blocks below MinBlockSize are
// counted as wasted and dropped.
func (fl *FreeList) Free(addr memory.Address, size int) {
	if size < fl.MinBlockSize() {
		fl.wasted += size
		return
	}
	b := &freeBlock{addr: addr, size: size}
	fl.available += size
	sc := fl.classes.classOf(size)
	if sc == fl.classes.numClasses() {
		fl.large = append(fl.large, b)
		return
	}
	heap.Push(&fl.lists[sc], b)
}

// Allocate removes and returns the smallest block of at least need bytes.
func (fl *FreeList) Allocate(need int) (memory.Address, int, bool) {
	for sc := fl.classes.classOf(need); sc < fl.classes.numClasses(); sc++ {
		if b := fl.allocateFromClass(sc, need); b != nil {
			fl.available -= b.size
			return b.addr, b.size, true
		}
	}
	best := -1
	for i, b := range fl.large {
		if b.size >= need && (best < 0 || b.size < fl.large[best].size) {
			best = i
		}
	}
	if best < 0 {
		return memory.NullAddress, 0, false
	}
	b := fl.large[best]
	fl.large[best] = fl.large[len(fl.large)-1]
	fl.large = fl.large[:len(fl.large)-1]
	fl.available -= b.size
	return b.addr, b.size, true
}

// allocateFromClass takes the best fit for need from one size class.
func (fl *FreeList) allocateFromClass(sc int, need int) *freeBlock {
	list := &fl.lists[sc]
	if list.Len() == 0 {
		return nil
	}
	if (*list)[0].size >= need {
		return heap.Pop(list).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
	}
	// heap[0] is too small; a larger block of the same class may fit.
	best := -1
	for i := 1; i < list.Len(); i++ {
		if s := (*list)[i].size; s >= need && (best < 0 || s < (*list)[best].size) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return heap.Remove(list, best).(*freeBlock) //nolint:errcheck // heap contains only *freeBlock
}

// Reset drops every block.
func (fl *FreeList) Reset() {
	for i := range fl.lists {
		fl.lists[i] = fl.lists[i][:0]
	}
	fl.large = fl.large[:0]
	fl.available = 0
	fl.wasted = 0
}
