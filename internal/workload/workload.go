// Package workload drives a heap with a simulated mutator. It allocates a
// random, seeded mix of objects, keeps a bounded subset alive through old
// root slots, and runs a scavenge whenever the young generation is full.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/alloc"
	"github.com/joshuapare/heapkit/heap/memory"
	"github.com/joshuapare/heapkit/heap/objects"
	"github.com/joshuapare/heapkit/heap/pretenuring"
	"github.com/joshuapare/heapkit/heap/scavenger"
	"github.com/joshuapare/heapkit/heap/verify"
	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	// ErrInvalidOptions indicates Options that cannot drive a run.
	ErrInvalidOptions = errors.New("workload: invalid options")
	// ErrOldGenerationFull indicates the mutator could not allocate anything
	// right after a scavenge. Without a full collector nothing frees old
	// memory, so the run cannot continue.
	ErrOldGenerationFull = errors.New("workload: old generation full")
)

// words are the string payloads. Some need two-byte storage.
var words = []string{"alpha", "bravo", "charlie", "delta", "naïve", "façade", "Ωmega", "日本語", "", "x"}

// Run allocates and collects for opts.Cycles scavenges.
func Run(ctx context.Context, h *heap.Heap, opts Options) (*Report, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := newMutator(h, opts)
	if err != nil {
		return nil, err
	}
	c := scavenger.NewCollector(h)
	report := &Report{}
	if opts.SampleRate > 0 {
		sampler := alloc.NewSamplingObserver(opts.SampleRate, opts.Seed, opts.Seed+1)
		young := h.Allocator(heap.Young)
		young.FreeLinearAllocationArea()
		young.AddAllocationObserver(sampler)
		defer func() {
			young.FreeLinearAllocationArea()
			young.RemoveAllocationObserver(sampler)
			report.Samples = len(sampler.Samples())
			report.SampledBytes = sampler.BytesReported()
		}()
	}
	start := time.Now()

	for range opts.Cycles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := m.fill()
		if err != nil {
			return report, err
		}
		stats, err := c.Collect(m.slots())
		if err != nil {
			return report, err
		}
		m.remembered = stats.RememberedSlots
		m.drop()

		if opts.Verify {
			if err := verify.AllInvariants(h); err != nil {
				return report, fmt.Errorf("workload: after cycle %d: %w", stats.Cycle, err)
			}
		}
		report.Cycles = append(report.Cycles, Cycle{
			Cycle:             stats.Cycle,
			Workers:           stats.Workers,
			Slots:             stats.Slots,
			Allocations:       n,
			CopiedBytes:       stats.CopiedBytes,
			PromotedBytes:     stats.PromotedBytes,
			ScannedObjects:    stats.ScannedObjects,
			LargeSurvivors:    stats.SurvivingLargeObjects,
			FreedLargeBytes:   stats.FreedLargeBytes,
			ClearedEphemerons: stats.ClearedEphemerons,
			NewlyTenuredSites: stats.NewlyTenuredSites,
			RememberedSlots:   len(stats.RememberedSlots),
			Duration:          stats.Duration,
		})
	}

	report.Allocations = m.allocations
	report.AllocatedBytes = m.bytes
	for _, site := range m.sites {
		if h.Pretenuring().DecisionOf(site) == pretenuring.Tenure {
			report.TenuredSites++
		}
	}
	report.Duration = time.Since(start)
	logger.Info("workload finished", "cycles", len(report.Cycles), "allocations", report.Allocations,
		"allocated", report.AllocatedBytes, "tenured_sites", report.TenuredSites, "duration", report.Duration)
	return report, nil
}

func (o Options) validate() error {
	switch {
	case o.Cycles < 0:
		return fmt.Errorf("%w: %d cycles", ErrInvalidOptions, o.Cycles)
	case o.Roots <= 0:
		return fmt.Errorf("%w: %d roots", ErrInvalidOptions, o.Roots)
	case o.StoreRate < 0 || o.StoreRate > 1:
		return fmt.Errorf("%w: store rate %g", ErrInvalidOptions, o.StoreRate)
	case o.DropRate < 0 || o.DropRate > 1:
		return fmt.Errorf("%w: drop rate %g", ErrInvalidOptions, o.DropRate)
	case o.LargeEvery < 0 || o.Sites < 0 || o.SampleRate < 0:
		return fmt.Errorf("%w: negative count", ErrInvalidOptions)
	}
	return nil
}

type mutator struct {
	h    *heap.Heap
	f    *heap.Factory
	opts Options
	rng  *rand.Rand

	roots      memory.Address
	sites      []memory.Address
	interned   []memory.Address
	remembered []memory.Address

	allocations int
	bytes       int64
}

func newMutator(h *heap.Heap, opts Options) (*mutator, error) {
	m := &mutator{
		h:    h,
		f:    h.Factory(),
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	var err error
	if m.roots, err = m.f.NewFixedArray(opts.Roots, heap.Old); err != nil {
		return nil, fmt.Errorf("workload: roots: %w", err)
	}
	for range opts.Sites {
		site, err := m.f.NewAllocationSite()
		if err != nil {
			return nil, fmt.Errorf("workload: site: %w", err)
		}
		m.sites = append(m.sites, site)
	}
	for _, w := range words {
		s, err := m.f.NewInternalizedString(w)
		if err != nil {
			return nil, fmt.Errorf("workload: intern %q: %w", w, err)
		}
		m.interned = append(m.interned, s)
	}
	return m, nil
}

func (m *mutator) rootSlot(i int) memory.Address { return objects.ElementSlot(m.roots, i) }

// slots returns the root slots followed by the other remembered slots of
// the previous cycle. Every slot is reported once.
func (m *mutator) slots() []memory.Address {
	out := make([]memory.Address, 0, m.opts.Roots+len(m.remembered))
	for i := range m.opts.Roots {
		out = append(out, m.rootSlot(i))
	}
	end := m.rootSlot(m.opts.Roots)
	for _, slot := range m.remembered {
		if slot < m.rootSlot(0) || slot >= end {
			out = append(out, slot)
		}
	}
	return out
}

// fill allocates until the young generation is full and returns the
// number of objects allocated, parts of composite objects included.
func (m *mutator) fill() (int, error) {
	before := m.allocations
	n := 0
	for {
		obj, err := m.allocate(n)
		if errors.Is(err, alloc.ErrRetryAfterGC) {
			if n == 0 {
				return m.allocations - before, ErrOldGenerationFull
			}
			return m.allocations - before, nil
		}
		if err != nil {
			return m.allocations - before, fmt.Errorf("workload: allocate: %w", err)
		}
		n++
		if m.rng.Float64() < m.opts.StoreRate {
			ref := objects.StrongRef(obj)
			if m.rng.IntN(8) == 0 {
				ref = objects.WeakRef(obj)
			}
			objects.StoreSlot(m.h.Memory(), m.rootSlot(m.rng.IntN(m.opts.Roots)), ref)
		}
	}
}

// drop clears a random share of the root slots.
func (m *mutator) drop() {
	for i := range m.opts.Roots {
		if m.rng.Float64() < m.opts.DropRate {
			objects.StoreSlot(m.h.Memory(), m.rootSlot(i), objects.MustSmi(0))
		}
	}
}

// pick returns the content of a random root slot.
func (m *mutator) pick() objects.Tagged {
	return objects.LoadSlot(m.h.Memory(), m.rootSlot(m.rng.IntN(m.opts.Roots)))
}

func (m *mutator) count(obj memory.Address, err error) (memory.Address, error) {
	if err != nil {
		return obj, err
	}
	m.allocations++
	m.bytes += int64(objects.Size(m.h.Memory(), obj))
	return obj, nil
}

func (m *mutator) allocate(n int) (memory.Address, error) {
	if m.opts.LargeEvery > 0 && n > 0 && n%m.opts.LargeEvery == 0 {
		return m.count(m.f.NewFixedArray(minLargeLength+m.rng.IntN(minLargeLength), heap.Young))
	}
	switch m.rng.IntN(8) {
	case 0:
		return m.count(m.f.NewHeapNumber(m.rng.Float64(), heap.Young))
	case 1:
		return m.newString()
	case 2:
		values := make([]objects.Tagged, 1+m.rng.IntN(4))
		for i := range values {
			values[i] = m.pick()
		}
		return m.count(m.f.NewFixedArrayFrom(values, heap.Young))
	case 3:
		first, err := m.newString()
		if err != nil {
			return memory.NullAddress, err
		}
		second := m.h.EmptyString()
		if m.rng.IntN(2) == 0 {
			second = m.interned[m.rng.IntN(len(m.interned))]
		}
		return m.count(m.f.NewConsString(first, second, heap.Young))
	case 4:
		return m.count(m.f.NewThinString(m.interned[m.rng.IntN(len(m.interned))], heap.Young))
	case 5:
		return m.newEphemeronTable()
	case 6:
		if len(m.sites) > 0 {
			return m.count(m.f.NewFixedArrayWithSite(2, m.sites[m.rng.IntN(len(m.sites))]))
		}
		return m.count(m.f.NewFixedArray(2, heap.Young))
	default:
		values := make([]float64, 1+m.rng.IntN(3))
		for i := range values {
			values[i] = m.rng.NormFloat64()
		}
		return m.count(m.f.NewFixedDoubleArray(values, heap.Young))
	}
}

// minLargeLength is the shortest FixedArray that needs a large page.
const minLargeLength = (format.MaxRegularHeapObjectSize-objects.ArrayHeaderSize)/format.TaggedSize + 1

func (m *mutator) newString() (memory.Address, error) {
	return m.count(m.f.NewString(words[m.rng.IntN(len(words))], heap.Young))
}

// newEphemeronTable builds a two-entry table. Keys are either reachable from
// the roots or only from the table itself, so some entries die.
func (m *mutator) newEphemeronTable() (memory.Address, error) {
	table, err := m.count(m.f.NewEphemeronHashTable(2, heap.Young))
	if err != nil {
		return memory.NullAddress, err
	}
	for i := range 2 {
		var key memory.Address
		if t := m.pick(); t.IsStrong() {
			key = t.Address()
		} else if key, err = m.count(m.f.NewHeapNumber(float64(i), heap.Young)); err != nil {
			return memory.NullAddress, err
		}
		value, err := m.count(m.f.NewHeapNumber(m.rng.Float64(), heap.Young))
		if err != nil {
			return memory.NullAddress, err
		}
		m.f.SetEphemeronEntry(table, i, key, objects.StrongRef(value))
	}
	return table, nil
}
