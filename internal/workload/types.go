package workload

import "time"

// Options controls the simulated mutator.
//
// The mutator allocates a random mix of objects until the young generation
// is full, keeps some of them reachable from a fixed set of old root slots,
// then runs a scavenge. Everything not stored in a root dies.
type Options struct {
	// Cycles is the number of scavenges to run.
	// Default: 10
	Cycles int

	// Roots is the number of root slots. Roots bound the live young set.
	// Default: 64
	Roots int

	// StoreRate is the probability that a new object is stored into a random
	// root slot, replacing what was there.
	// Default: 0.05
	StoreRate float64

	// DropRate is the probability that a root slot is cleared after a cycle.
	// Default: 0.25
	DropRate float64

	// LargeEvery allocates a young large array every LargeEvery objects.
	// Example: 500 → roughly 16 large arrays per 256 KiB semi-space.
	// Default: 0 (no large objects)
	LargeEvery int

	// Sites is the number of allocation sites arrays are attributed to.
	// Default: 4
	Sites int

	// Seed makes runs reproducible.
	// Default: 1
	Seed uint64

	// SampleRate attaches an allocation-sampling observer to the young
	// allocator that records one object every SampleRate bytes on average.
	// Default: 0 (no sampling)
	SampleRate int

	// Verify runs the heap verifier after every cycle.
	// Default: false
	Verify bool
}

// DefaultOptions returns a short, deterministic run.
func DefaultOptions() Options {
	return Options{
		Cycles:    10,
		Roots:     64,
		StoreRate: 0.05,
		DropRate:  0.25,
		Sites:     4,
		Seed:      1,
	}
}

// Report aggregates a run.
type Report struct {
	// Allocations counts objects allocated by the mutator, across cycles.
	Allocations int

	// AllocatedBytes is the sum of the sizes of those objects.
	AllocatedBytes int64

	Cycles []Cycle

	// Samples and SampledBytes are reported by the sampling observer.
	Samples      int
	SampledBytes int64

	// TenuredSites is the number of sites that ended the run with a tenure
	// decision.
	TenuredSites int

	Duration time.Duration
}

// Cycle is the summary of one scavenge.
type Cycle struct {
	Cycle   int `json:"cycle"`
	Workers int `json:"workers"`
	Slots   int `json:"slots"`
	// Allocations counts every object the mutator created before the
	// collection. The cycles add up to Report.Allocations.
	Allocations       int           `json:"allocations"`
	CopiedBytes       int64         `json:"copied_bytes"`
	PromotedBytes     int64         `json:"promoted_bytes"`
	ScannedObjects    int           `json:"scanned_objects"`
	LargeSurvivors    int           `json:"large_survivors"`
	FreedLargeBytes   int64         `json:"freed_large_bytes"`
	ClearedEphemerons int           `json:"cleared_ephemerons"`
	NewlyTenuredSites int           `json:"newly_tenured_sites"`
	RememberedSlots   int           `json:"remembered_slots"`
	Duration          time.Duration `json:"duration_ns"`
}

// PromotedBytes sums promotion over all cycles.
func (r *Report) PromotedBytes() int64 {
	var n int64
	for _, c := range r.Cycles {
		n += c.PromotedBytes
	}
	return n
}

// SurvivalPercent returns copied plus promoted bytes as a share of what the
// mutator allocated.
func (r *Report) SurvivalPercent() float64 {
	if r.AllocatedBytes == 0 {
		return 0
	}
	var survived int64
	for _, c := range r.Cycles {
		survived += c.CopiedBytes + c.PromotedBytes
	}
	return float64(survived) / float64(r.AllocatedBytes) * 100
}
