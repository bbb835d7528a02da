package memory

import (
	"sync/atomic"

	"github.com/joshuapare/heapkit/internal/format"
)

// PageFlag is a bit in Page.Flags.
type PageFlag uint32

const (
	// FlagFromPage marks a page being evacuated by the current scavenge.
	FlagFromPage PageFlag = 1 << iota
	// FlagToPage marks a semi-space page receiving survivors.
	FlagToPage
	// FlagLargePage marks a page holding a single large object.
	FlagLargePage
	// FlagBelowAgeMark marks a new-space page whose objects up to the age mark
	// already survived one scavenge.
	FlagBelowAgeMark
)

// Page is the metadata of one regular page or one large page. The memory it
// describes is [Start, End) in the arena.
type Page struct {
	start Address
	end   Address
	slot  int // index of the first page-table slot

	owner atomic.Uint32 // SpaceID
	flags atomic.Uint32

	highWaterMark atomic.Uint32
	liveBytes     atomic.Int64

	// Marks is the mark bitmap: one bit per tagged word of the page.
	Marks []uint32
}

func newPage(start Address, size int, slot int, owner SpaceID) *Page {
	words := size / format.TaggedSize
	p := &Page{
		start: start,
		end:   start + Address(size),
		slot:  slot,
		Marks: make([]uint32, (words+format.MarkBitsPerCell-1)/format.MarkBitsPerCell),
	}
	p.owner.Store(uint32(owner))
	p.highWaterMark.Store(start)
	return p
}

// Start returns the first usable address of the page.
func (p *Page) Start() Address { return p.start }

// End returns the address one past the page.
func (p *Page) End() Address { return p.end }

// Size returns the page size in bytes.
func (p *Page) Size() int { return int(p.end - p.start) }

// Contains reports whether a lies inside the page.
func (p *Page) Contains(a Address) bool { return a >= p.start && a < p.end }

// ContainsLimit reports whether a lies inside the page or at its end.
func (p *Page) ContainsLimit(a Address) bool { return a >= p.start && a <= p.end }

// Owner returns the space the page belongs to.
func (p *Page) Owner() SpaceID { return SpaceID(p.owner.Load()) }

// SetOwner moves the page to another space.
func (p *Page) SetOwner(id SpaceID) { p.owner.Store(uint32(id)) }

// IsFlagSet reports whether f is set.
func (p *Page) IsFlagSet(f PageFlag) bool { return PageFlag(p.flags.Load())&f != 0 }

// SetFlags sets the bits in f.
func (p *Page) SetFlags(f PageFlag) { p.flags.Or(uint32(f)) }

// ClearFlags clears the bits in f.
func (p *Page) ClearFlags(f PageFlag) { p.flags.And(^uint32(f)) }

// InYoungGeneration reports whether the page belongs to the young generation.
func (p *Page) InYoungGeneration() bool { return p.Owner().IsYoung() }

// HighWaterMark returns the highest allocation top recorded for the page.
func (p *Page) HighWaterMark() Address { return p.highWaterMark.Load() }

// ResetHighWaterMark forgets every allocation on the page.
func (p *Page) ResetHighWaterMark() { p.highWaterMark.Store(p.start) }

// UpdateHighWaterMark raises the high-water mark to top if it is higher.
func (p *Page) UpdateHighWaterMark(top Address) {
	for {
		cur := p.highWaterMark.Load()
		if top <= cur || !p.Contains(top-1) {
			return
		}
		if p.highWaterMark.CompareAndSwap(cur, top) {
			return
		}
	}
}

// LiveBytes returns the bytes accounted as live by the marker.
func (p *Page) LiveBytes() int64 { return p.liveBytes.Load() }

// IncrementLiveBytes adds n to the live-byte counter.
func (p *Page) IncrementLiveBytes(n int64) { p.liveBytes.Add(n) }

// ResetMarking clears the mark bitmap and the live-byte counter. Callers must
// own the page exclusively.
func (p *Page) ResetMarking() {
	clear(p.Marks)
	p.liveBytes.Store(0)
}
