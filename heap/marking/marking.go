// Package marking implements the per-page mark bitmap used by black
// allocation and by the scavenger when it moves marked objects. Each bit
// covers one tagged word; an object is marked when the bit of its first word
// is set.
package marking

import (
	"sync/atomic"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
)

// PageOfFunc resolves an address to its page.
type PageOfFunc func(memory.Address) *memory.Page

// State answers marking queries over the pages of one heap.
type State struct {
	pageOf PageOfFunc
}

// NewState returns a marking state that finds bitmaps through pageOf.
func NewState(pageOf PageOfFunc) *State {
	return &State{pageOf: pageOf}
}

func bitIndex(p *memory.Page, a memory.Address) (cell int, mask uint32) {
	i := int(a-p.Start()) >> format.TaggedSizeLog2
	return i / format.MarkBitsPerCell, 1 << (uint(i) % format.MarkBitsPerCell)
}

func (s *State) page(a memory.Address) *memory.Page {
	p := s.pageOf(a)
	if p == nil {
		panic("marking: address outside any page")
	}
	return p
}

// IsMarked reports whether obj is marked.
func (s *State) IsMarked(obj memory.Address) bool {
	p := s.page(obj)
	cell, mask := bitIndex(p, obj)
	return atomic.LoadUint32(&p.Marks[cell])&mask != 0
}

// IsUnmarked reports whether obj is not marked.
func (s *State) IsUnmarked(obj memory.Address) bool { return !s.IsMarked(obj) }

// TryMark marks obj. It returns false if obj was already marked.
func (s *State) TryMark(obj memory.Address) bool {
	p := s.page(obj)
	cell, mask := bitIndex(p, obj)
	return atomic.OrUint32(&p.Marks[cell], mask)&mask == 0
}

// TryMarkAndAccountLiveBytes marks obj and adds size to its page's live
// bytes when the mark is new.
func (s *State) TryMarkAndAccountLiveBytes(obj memory.Address, size int) bool {
	if !s.TryMark(obj) {
		return false
	}
	s.page(obj).IncrementLiveBytes(int64(size))
	return true
}

// TransferColor marks target if source is marked. The caller owns target.
func (s *State) TransferColor(source, target memory.Address, size int) {
	if s.IsMarked(source) {
		s.TryMarkAndAccountLiveBytes(target, size)
	}
}

// MarkRange sets the bit of every word in [start, end). Both lie on one page.
func (s *State) MarkRange(start, end memory.Address) {
	s.updateRange(start, end, true)
}

// ClearRange clears the bit of every word in [start, end). Both lie on one
// page.
func (s *State) ClearRange(start, end memory.Address) {
	s.updateRange(start, end, false)
}

func (s *State) updateRange(start, end memory.Address, set bool) {
	if start >= end {
		return
	}
	p := s.page(start)
	for a := start; a < end; {
		cell, mask := bitIndex(p, a)
		// Cover the rest of this cell in one atomic operation when possible.
		first := int(a-p.Start())>>format.TaggedSizeLog2%format.MarkBitsPerCell
		words := min(format.MarkBitsPerCell-first, int(end-a)>>format.TaggedSizeLog2)
		if words == format.MarkBitsPerCell {
			mask = ^uint32(0)
		} else {
			mask = (uint32(1)<<words - 1) << first
		}
		if set {
			atomic.OrUint32(&p.Marks[cell], mask)
		} else {
			atomic.AndUint32(&p.Marks[cell], ^mask)
		}
		a += memory.Address(words << format.TaggedSizeLog2)
	}
}

// AllMarked reports whether every word of [start, end) is marked.
func (s *State) AllMarked(start, end memory.Address) bool {
	for a := start; a < end; a += format.TaggedSize {
		if !s.IsMarked(a) {
			return false
		}
	}
	return true
}

// NoneMarked reports whether no word of [start, end) is marked.
func (s *State) NoneMarked(start, end memory.Address) bool {
	for a := start; a < end; a += format.TaggedSize {
		if s.IsMarked(a) {
			return false
		}
	}
	return true
}
