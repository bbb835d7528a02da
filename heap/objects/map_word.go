package objects

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/internal/format"
)

// MapWord is an object header. It holds either the map of the object or,
// once the object has been evacuated, its forwarding address.
//
//	map:        id<<2 | 01
//	forwarding: 4-aligned address (low bits 00)
type MapWord uint32

// FromMap builds the header word for m.
func FromMap(m *Map) MapWord {
	return MapWord(uint32(m.ID)<<format.TaggedSizeLog2 | format.HeapObjectTag)
}

// FromForwardingAddress builds a forwarding header pointing at target.
func FromForwardingAddress(target memory.Address) MapWord {
	return MapWord(target)
}

func (w MapWord) IsMap() bool { return w&format.HeapObjectTagMask == format.HeapObjectTag }

func (w MapWord) IsForwardingAddress() bool {
	return w != 0 && w&format.HeapObjectTagMask == 0
}

// ToMap decodes a map header. It returns nil when w is not a known map.
func (w MapWord) ToMap() *Map {
	if !w.IsMap() {
		return nil
	}
	return MapFor(MapID(w >> format.TaggedSizeLog2))
}

// ToForwardingAddress decodes a forwarding header.
func (w MapWord) ToForwardingAddress() memory.Address {
	return memory.Address(w)
}

func (w MapWord) String() string {
	switch {
	case w.IsForwardingAddress():
		return fmt.Sprintf("forward(%#x)", uint32(w))
	case w.ToMap() != nil:
		return w.ToMap().Name
	default:
		return fmt.Sprintf("mapword(%#x)", uint32(w))
	}
}

// Header accessors. Every read and write of an object header goes through
// these functions so concurrent evacuators only ever observe whole words.

// LoadMapWord reads the header of obj with acquire semantics.
func LoadMapWord(mem *memory.Memory, obj memory.Address) MapWord {
	return MapWord(mem.AtomicLoad(obj))
}

// MapOf returns the map of an object that is known not to be forwarded.
func MapOf(mem *memory.Memory, obj memory.Address) *Map {
	m := LoadMapWord(mem, obj).ToMap()
	if m == nil {
		panic(fmt.Sprintf("objects: no map at %#x (%s)", obj, LoadMapWord(mem, obj)))
	}
	return m
}

// SetMap writes a map header.
func SetMap(mem *memory.Memory, obj memory.Address, m *Map) {
	mem.AtomicStore(obj, uint32(FromMap(m)))
}

// SetMapWordForwarded overwrites the header with a forwarding address.
func SetMapWordForwarded(mem *memory.Memory, obj, target memory.Address) {
	mem.AtomicStore(obj, uint32(FromForwardingAddress(target)))
}

// CompareAndSwapMapWordForwarded installs a forwarding address only if the
// header still holds expected. Exactly one of several racing callers wins.
func CompareAndSwapMapWordForwarded(mem *memory.Memory, obj memory.Address, expected *Map, target memory.Address) bool {
	return mem.CompareAndSwap(obj, uint32(FromMap(expected)), uint32(FromForwardingAddress(target)))
}

// RestoreMap replaces a forwarding header with the original map.
func RestoreMap(mem *memory.Memory, obj memory.Address, m *Map) {
	mem.AtomicStore(obj, uint32(FromMap(m)))
}
