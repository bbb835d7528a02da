package alloc

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/joshuapare/heapkit/heap/memory"
)

// Sample is one allocation recorded by a SamplingObserver.
type Sample struct {
	Address memory.Address
	Size    int
}

// SamplingObserver records one allocation every Rate bytes on average. The
// distance between samples is exponentially distributed so that sampling
// is unbiased with respect to allocation patterns.
type SamplingObserver struct {
	rate int
	rng  *rand.Rand

	mu      sync.Mutex
	samples []Sample
	bytes   int64
	steps   int
}

// NewSamplingObserver creates an observer sampling every rate bytes on
// average. A zero seed pair gives a fixed, reproducible sequence.
func NewSamplingObserver(rate int, seed1, seed2 uint64) *SamplingObserver {
	if rate <= 0 {
		rate = 1
	}
	return &SamplingObserver{rate: rate, rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Step records the object about to be allocated.
func (s *SamplingObserver) Step(bytesAllocated int, soonObject memory.Address, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, Sample{Address: soonObject, Size: size})
	s.bytes += int64(bytesAllocated)
	s.steps++
}

// NextStepSize draws the next sampling distance.
func (s *SamplingObserver) NextStepSize() int {
	// -ln(U) * rate, the inverse CDF of the exponential distribution.
	next := int(-math.Log(1-s.rng.Float64()) * float64(s.rate))
	return max(next, 1)
}

// Samples returns a copy of the recorded samples.
func (s *SamplingObserver) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// BytesReported returns the sum of bytesAllocated over all steps.
func (s *SamplingObserver) BytesReported() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Steps returns how many times the observer was stepped.
func (s *SamplingObserver) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}
