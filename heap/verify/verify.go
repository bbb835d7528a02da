package verify

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/format"
)

// ValidationError describes one violated invariant.
type ValidationError struct {
	Type    string
	Message string
	// Addr is the offending object or slot, or 0 when the error is not tied
	// to an address.
	Addr    memory.Address
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s at %#x: %s", e.Type, e.Addr, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// AllInvariants validates all heap invariants in one call. Mutator LABs are
// made iterable first. Returns the first error encountered.
func AllInvariants(h *heap.Heap) error {
	h.MakeHeapIterable()
	if err := Pages(h); err != nil {
		return err
	}
	starts, err := Objects(h)
	if err != nil {
		return err
	}
	return Pointers(h, starts)
}

// Pages validates the owner and flags of every page of every space.
func Pages(h *heap.Heap) error {
	for _, s := range h.Spaces() {
		id := s.Identity()
		for _, p := range s.Pages() {
			if p.Owner() != id {
				return &ValidationError{
					Type:    "Pages",
					Message: fmt.Sprintf("page owned by %s listed in %s", p.Owner(), id),
					Addr:    p.Start(),
				}
			}
			if memory.Address(format.PageBase(p.Start())) != p.Start() {
				return &ValidationError{
					Type:    "Pages",
					Message: "page start not page aligned",
					Addr:    p.Start(),
				}
			}
			if h.PageAllocator().PageOf(p.Start()) != p {
				return &ValidationError{
					Type:    "Pages",
					Message: "page not registered with the page allocator",
					Addr:    p.Start(),
				}
			}
			if id.IsLarge() != p.IsFlagSet(memory.FlagLargePage) {
				return &ValidationError{
					Type:    "Pages",
					Message: fmt.Sprintf("large-page flag %t on a %s page", p.IsFlagSet(memory.FlagLargePage), id),
					Addr:    p.Start(),
				}
			}
			if p.IsFlagSet(memory.FlagFromPage) {
				return &ValidationError{
					Type:    "Pages",
					Message: fmt.Sprintf("from-space flag on a live %s page", id),
					Addr:    p.Start(),
				}
			}
			if id == memory.NewSpace && !p.IsFlagSet(memory.FlagToPage) {
				return &ValidationError{
					Type:    "Pages",
					Message: "new-space page without the to-space flag",
					Addr:    p.Start(),
				}
			}
		}
	}
	return nil
}

// Objects walks every page and validates object headers and extents. It
// returns the start addresses of all non-filler objects.
func Objects(h *heap.Heap) (map[memory.Address]*objects.Map, error) {
	mem := h.Memory()
	starts := make(map[memory.Address]*objects.Map)
	for _, s := range h.Spaces() {
		for _, p := range s.Pages() {
			limit := p.End()
			if s.Identity() == memory.NewSpace {
				limit = h.NewSpace().AllocatedLimit(p)
			}
			for obj := p.Start(); obj < limit; {
				m, err := mapOf(mem, obj)
				if err != nil {
					return nil, err
				}
				size := objects.SizeFromMap(mem, obj, m)
				if size <= 0 || obj+memory.Address(size) > limit {
					return nil, &ValidationError{
						Type:    "Objects",
						Message: fmt.Sprintf("%s of size %d crosses limit %#x", m, size, limit),
						Addr:    obj,
						Details: map[string]any{
							"space": s.Identity().String(),
							"page":  p.Start(),
						},
					}
				}
				if !objects.IsFiller(m) {
					starts[obj] = m
				}
				if p.IsFlagSet(memory.FlagLargePage) {
					break
				}
				obj += memory.Address(size)
			}
		}
	}
	return starts, nil
}

func mapOf(mem *memory.Memory, obj memory.Address) (*objects.Map, error) {
	w := objects.LoadMapWord(mem, obj)
	if w.IsForwardingAddress() {
		return nil, &ValidationError{
			Type:    "Objects",
			Message: fmt.Sprintf("stale forwarding header to %#x", w.ToForwardingAddress()),
			Addr:    obj,
		}
	}
	m := w.ToMap()
	if m == nil {
		return nil, &ValidationError{
			Type:    "Objects",
			Message: fmt.Sprintf("invalid header %s", w),
			Addr:    obj,
		}
	}
	return m, nil
}

// Pointers validates every slot of the objects in starts. Each heap
// reference must point at the start of a live object.
func Pointers(h *heap.Heap, starts map[memory.Address]*objects.Map) error {
	v := &slotChecker{heap: h, starts: starts}
	mem := h.Memory()
	for obj, m := range starts {
		objects.IterateBody(mem, m, obj, objects.SizeFromMap(mem, obj, m), v)
		if v.err != nil {
			return v.err
		}
	}
	return nil
}

type slotChecker struct {
	heap   *heap.Heap
	starts map[memory.Address]*objects.Map
	err    error
}

func (c *slotChecker) VisitPointers(host, start, end memory.Address) {
	for slot := start; slot < end && c.err == nil; slot += format.TaggedSize {
		c.check(host, slot)
	}
}

func (c *slotChecker) VisitEphemeron(host memory.Address, _ int, key, value memory.Address) {
	c.check(host, key)
	c.check(host, value)
}

func (c *slotChecker) check(host, slot memory.Address) {
	if c.err != nil {
		return
	}
	t := objects.LoadSlot(c.heap.Memory(), slot)
	if !t.IsHeapObject() {
		return
	}
	target := t.Address()
	switch {
	case c.heap.InFromPage(target):
		c.err = &ValidationError{
			Type:    "Pointers",
			Message: fmt.Sprintf("slot of %#x points into from-space at %#x", host, target),
			Addr:    slot,
		}
	case c.starts[target] == nil:
		c.err = &ValidationError{
			Type:    "Pointers",
			Message: fmt.Sprintf("slot of %#x points at %#x, which is not an object", host, target),
			Addr:    slot,
			Details: map[string]any{
				"target_space": c.heap.SpaceOf(target).String(),
			},
		}
	}
}
