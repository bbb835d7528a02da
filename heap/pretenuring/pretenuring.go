// Package pretenuring turns allocation-memento feedback gathered during
// scavenges into per-site tenure decisions.
//
// The factory places an AllocationMemento right behind arrays allocated for a
// tracked AllocationSite and bumps the site's created counter. When the
// scavenger moves such an array it finds the memento behind the source and
// counts the site in worker-local Feedback. After the pause the counts are
// merged into the sites' found counters and ProcessPretenuringFeedback
// decides which sites should allocate straight into old space.
package pretenuring

import (
	"sync"

	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/internal/logger"
)

const (
	// MinMementoCount is the number of created mementos below which a site is
	// left undecided.
	MinMementoCount = 100

	// TenureRatio is the found/created ratio at which a site is tenured.
	TenureRatio = 0.85
)

// Decision is the pretenuring state of an AllocationSite.
type Decision int

const (
	Undecided Decision = iota
	DontTenure
	Tenure
)

func (d Decision) String() string {
	switch d {
	case DontTenure:
		return "dont_tenure"
	case Tenure:
		return "tenure"
	default:
		return "undecided"
	}
}

// Feedback counts memento hits per allocation site. Each scavenger owns one.
type Feedback map[memory.Address]int

// Handler owns the registered allocation sites.
type Handler struct {
	mem    *memory.Memory
	pageOf func(memory.Address) *memory.Page

	mu    sync.Mutex
	sites []memory.Address
}

// NewHandler creates a handler reading objects from mem.
func NewHandler(mem *memory.Memory, pageOf func(memory.Address) *memory.Page) *Handler {
	return &Handler{mem: mem, pageOf: pageOf}
}

// RegisterSite starts tracking the AllocationSite at site.
func (h *Handler) RegisterSite(site memory.Address) {
	h.mu.Lock()
	h.sites = append(h.sites, site)
	h.mu.Unlock()
}

// Sites returns the registered sites.
func (h *Handler) Sites() []memory.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]memory.Address(nil), h.sites...)
}

// UpdateAllocationSite records a memento hit in feedback when an
// AllocationMemento directly follows the object of the given map and size at
// source. Words past the page's high-water mark were never allocated and are
// not looked at. It runs concurrently on all scavenger workers.
func (h *Handler) UpdateAllocationSite(m *objects.Map, source memory.Address, size int, feedback Feedback) {
	if !objects.CanTrackAllocationSite(m) {
		return
	}
	memento := source + memory.Address(size)
	p := h.pageOf(source)
	if p == nil || memento+objects.AllocationMementoSize > p.HighWaterMark() {
		return
	}
	if mm := objects.LoadMapWord(h.mem, memento).ToMap(); mm == nil || mm.ID != objects.AllocationMementoMap {
		return
	}
	site := objects.LoadSlot(h.mem, memento+objects.MementoSiteOffset)
	if !site.IsStrong() {
		return
	}
	feedback[site.Address()]++
}

// MergeAllocationSitePretenuringFeedback adds the counts of feedback to the
// found counters of their sites.
func (h *Handler) MergeAllocationSitePretenuringFeedback(feedback Feedback) {
	for site, found := range feedback {
		h.addField(site, objects.SiteFoundOffset, found)
	}
}

// IncrementCreated counts one more memento created for site.
func (h *Handler) IncrementCreated(site memory.Address) {
	h.addField(site, objects.SiteCreatedOffset, 1)
}

// Counts returns the created and found counters of site.
func (h *Handler) Counts(site memory.Address) (created, found int) {
	return h.field(site, objects.SiteCreatedOffset), h.field(site, objects.SiteFoundOffset)
}

// DecisionOf returns the current decision of site.
func (h *Handler) DecisionOf(site memory.Address) Decision {
	return Decision(h.field(site, objects.SiteDecisionOffset))
}

// ProcessPretenuringFeedback decides every undecided or DontTenure site with
// enough created mementos and resets the counters of all sites. It returns
// the number of sites newly switched to Tenure.
func (h *Handler) ProcessPretenuringFeedback() int {
	tenured := 0
	for _, site := range h.Sites() {
		created, found := h.Counts(site)
		// Tenure is final: the site's arrays already live in old space.
		if created >= MinMementoCount && h.DecisionOf(site) != Tenure {
			decision := DontTenure
			if float64(found)/float64(created) >= TenureRatio {
				decision = Tenure
				tenured++
				logger.Debug("allocation site tenured", "site", site, "created", created, "found", found)
			}
			h.setField(site, objects.SiteDecisionOffset, int(decision))
		}
		h.setField(site, objects.SiteCreatedOffset, 0)
		h.setField(site, objects.SiteFoundOffset, 0)
	}
	return tenured
}

func (h *Handler) field(site memory.Address, offset memory.Address) int {
	return objects.LoadSlot(h.mem, site+offset).SmiValue()
}

func (h *Handler) setField(site memory.Address, offset memory.Address, v int) {
	objects.StoreSlot(h.mem, site+offset, objects.MustSmi(v))
}

func (h *Handler) addField(site memory.Address, offset memory.Address, n int) {
	h.setField(site, offset, h.field(site, offset)+n)
}
