// Package memory owns the heap arena: one contiguous, page-aligned region of
// 32-bit words, the page table mapping addresses to pages, and the pool that
// hands pages to spaces.
//
// # Addresses
//
// An Address is a byte offset into the arena. Address 0 is the null address;
// the first page of the arena is never handed out, so no object lives there.
//
// # Access discipline
//
// Words that several collector workers may touch concurrently (object
// headers and slots) must go through AtomicLoad, AtomicStore and
// CompareAndSwap. Load and Store are for words owned by the caller, such as
// the payload of an object it just allocated. CopyBlock is the only bulk
// copy primitive in the module.
package memory

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/check"
	"github.com/joshuapare/heapkit/internal/format"
)

// Address is a byte offset into the arena.
type Address = uint32

// NullAddress is the zero address. No object ever lives there.
const NullAddress Address = 0

// Memory is the reserved arena.
type Memory struct {
	raw   []byte
	words []uint32
}

// Reserve maps an arena of size bytes. size must be a positive multiple of
// format.PageSize and addressable with 32 bits.
func Reserve(size int) (*Memory, error) {
	if size <= 0 || size%format.PageSize != 0 || uint64(size) > math.MaxUint32 {
		return nil, fmt.Errorf("reserve %d bytes: %w", size, ErrArenaSize)
	}
	raw, err := reserve(size)
	if err != nil {
		return nil, fmt.Errorf("reserve %d bytes: %w", size, err)
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&raw[0])), size/format.TaggedSize)
	return &Memory{raw: raw, words: words}, nil
}

// Close releases the arena. Any further access panics.
func (m *Memory) Close() error {
	if m.raw == nil {
		return ErrClosed
	}
	raw := m.raw
	m.raw, m.words = nil, nil
	return release(raw)
}

// Size returns the arena size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.raw))
}

// Contains reports whether a lies inside the arena and is not null.
func (m *Memory) Contains(a Address) bool {
	return a != NullAddress && int(a) < len(m.raw)
}

func (m *Memory) word(a Address) *uint32 {
	check.DCheck(a&format.ObjectAlignmentMask == 0, "unaligned word access at %#x", a)
	return &m.words[a>>format.TaggedSizeLog2]
}

// Load reads the word at a without synchronisation.
func (m *Memory) Load(a Address) uint32 {
	return *m.word(a)
}

// Store writes the word at a without synchronisation.
func (m *Memory) Store(a Address, v uint32) {
	*m.word(a) = v
}

// AtomicLoad reads the word at a with acquire semantics.
func (m *Memory) AtomicLoad(a Address) uint32 {
	return atomic.LoadUint32(m.word(a))
}

// AtomicStore writes the word at a with release semantics.
func (m *Memory) AtomicStore(a Address, v uint32) {
	atomic.StoreUint32(m.word(a), v)
}

// CompareAndSwap atomically replaces old with replacement at a. The successful swap
// publishes every write the caller made before it.
func (m *Memory) CompareAndSwap(a Address, old, replacement uint32) bool {
	return atomic.CompareAndSwapUint32(m.word(a), old, replacement)
}

// LoadFloat64 reads an unboxed double stored as two little-endian words.
func (m *Memory) LoadFloat64(a Address) float64 {
	lo := uint64(m.Load(a))
	hi := uint64(m.Load(a + format.TaggedSize))
	return math.Float64frombits(hi<<32 | lo)
}

// StoreFloat64 writes an unboxed double as two little-endian words.
func (m *Memory) StoreFloat64(a Address, v float64) {
	bits := math.Float64bits(v)
	m.Store(a, uint32(bits))
	m.Store(a+format.TaggedSize, uint32(bits>>32))
}

// Bytes returns the n bytes starting at a as a slice aliasing the arena.
func (m *Memory) Bytes(a Address, n int) []byte {
	return m.raw[a : int(a)+n]
}

// CopyBlock copies size bytes from src to dst. Both ranges must be word
// aligned, lie inside the arena and not overlap.
func (m *Memory) CopyBlock(dst, src Address, size int) {
	check.Check(size >= 0 && format.IsObjectAligned(size), "copy block: bad size %d", size)
	check.Check(dst&format.ObjectAlignmentMask == 0 && src&format.ObjectAlignmentMask == 0,
		"copy block: unaligned %#x <- %#x", dst, src)
	check.Check(int(dst)+size <= len(m.raw) && int(src)+size <= len(m.raw),
		"copy block: [%#x, +%d) or [%#x, +%d) outside arena", dst, size, src, size)
	check.Check(dst+uint32(size) <= src || src+uint32(size) <= dst,
		"copy block: overlapping ranges %#x and %#x (%d bytes)", dst, src, size)
	n := uint32(size) >> format.TaggedSizeLog2
	d, s := dst>>format.TaggedSizeLog2, src>>format.TaggedSizeLog2
	copy(m.words[d:d+n], m.words[s:s+n])
}

// Discard returns the physical memory of [a, a+size) to the OS and zeroes
// it. Both a and size must be page aligned.
func (m *Memory) Discard(a Address, size int) {
	check.Check(a&format.PageAlignmentMask == 0 && size%format.PageSize == 0,
		"discard: [%#x, +%d) not page aligned", a, size)
	discard(m.raw[a : int(a)+size])
}
