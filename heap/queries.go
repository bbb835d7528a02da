package heap

import (
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
)

func (h *Heap) pageFlag(a memory.Address, f memory.PageFlag) bool {
	p := h.pages.PageOf(a)
	return p != nil && p.IsFlagSet(f)
}

// InFromPage reports whether a lies on a page being evacuated.
func (h *Heap) InFromPage(a memory.Address) bool { return h.pageFlag(a, memory.FlagFromPage) }

// InToPage reports whether a lies on a to-space page, including young large
// pages that have not been flipped.
func (h *Heap) InToPage(a memory.Address) bool { return h.pageFlag(a, memory.FlagToPage) }

// IsLargeObject reports whether a lies on a large page.
func (h *Heap) IsLargeObject(a memory.Address) bool { return h.pageFlag(a, memory.FlagLargePage) }

// InYoungGeneration reports whether a belongs to the new space or the new
// large-object space.
func (h *Heap) InYoungGeneration(a memory.Address) bool {
	p := h.pages.PageOf(a)
	return p != nil && p.InYoungGeneration()
}

// SpaceOf returns the identity of the space owning a.
func (h *Heap) SpaceOf(a memory.Address) memory.SpaceID {
	if p := h.pages.PageOf(a); p != nil {
		return p.Owner()
	}
	return memory.NoSpace
}

// AllowedToBeMigrated reports whether obj, whose map is m, may be moved into
// the space dst.
func (h *Heap) AllowedToBeMigrated(m *objects.Map, obj memory.Address, dst memory.SpaceID) bool {
	if objects.IsFiller(m) {
		return false
	}
	switch h.SpaceOf(obj) {
	case memory.NewSpace:
		switch dst {
		case memory.NewSpace, memory.OldSpace:
			return true
		case memory.SharedSpace:
			return h.cfg.SharedStringTable && m.Type.IsString()
		}
		return false
	case memory.OldSpace:
		return dst == memory.OldSpace
	case memory.SharedSpace:
		return dst == memory.SharedSpace
	case memory.NewLargeObjectSpace:
		return dst == memory.NewLargeObjectSpace || dst == memory.LargeObjectSpace
	default:
		return false
	}
}

// ShouldBePromoted reports whether the from-space object at obj should
// leave the young generation. The age mark decides unless a policy was
// installed with SetPromotionPolicy.
func (h *Heap) ShouldBePromoted(obj memory.Address) bool {
	h.promotionMu.RLock()
	policy := h.shouldPromote
	h.promotionMu.RUnlock()
	if policy != nil {
		return policy(obj)
	}
	return h.newSpace.ShouldBePromoted(obj)
}

// SetPromotionPolicy replaces the age-mark promotion decision. A nil policy
// restores it.
func (h *Heap) SetPromotionPolicy(policy func(obj memory.Address) bool) {
	h.promotionMu.Lock()
	h.shouldPromote = policy
	h.promotionMu.Unlock()
}

// IterateObjects calls fn with every object of page p, fillers included,
// until fn returns false. Mutator LABs must have been made iterable.
func (h *Heap) IterateObjects(p *memory.Page, fn func(obj memory.Address, m *objects.Map, size int) bool) {
	if p.IsFlagSet(memory.FlagLargePage) {
		m := objects.MapOf(h.mem, p.Start())
		fn(p.Start(), m, objects.SizeFromMap(h.mem, p.Start(), m))
		return
	}
	limit := p.End()
	if p.Owner() == memory.NewSpace {
		limit = h.newSpace.AllocatedLimit(p)
	}
	for obj := p.Start(); obj < limit; {
		m := objects.MapOf(h.mem, obj)
		size := objects.SizeFromMap(h.mem, obj, m)
		if !fn(obj, m, size) {
			return
		}
		obj += memory.Address(size)
	}
}
