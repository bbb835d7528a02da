package spaces

import "math"

// SizeClassConfig defines the free-list size class strategy.
type SizeClassConfig struct {
	// Name for this configuration
	Name string

	// Small block settings (linear increments)
	SmallMin       int // Smallest block kept on a free list
	SmallMax       int // Max for linear increments
	SmallIncrement int // Increment size for small blocks

	// Medium block settings (logarithmic growth)
	MediumMax    int     // Max before the large list
	GrowthFactor float64 // Exponential growth factor
}

// DefaultSizeClasses covers 16-256 bytes in 16 byte steps, then grows by
// 1.5x up to 16 KiB. Larger blocks share one unsorted list.
var DefaultSizeClasses = SizeClassConfig{
	Name:           "Default",
	SmallMin:       16,
	SmallMax:       256,
	SmallIncrement: 16,
	MediumMax:      16384,
	GrowthFactor:   1.5,
}

// sizeClassTable holds the computed size class boundaries.
type sizeClassTable struct {
	config     SizeClassConfig
	boundaries []int // Upper bound for each size class
}

func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{config: config}

	for size := config.SmallMin; size < config.SmallMax; size += config.SmallIncrement {
		table.boundaries = append(table.boundaries, size+config.SmallIncrement-1)
	}

	size := config.SmallMax
	for size < config.MediumMax {
		next := int(math.Ceil(float64(size) * config.GrowthFactor))
		if next <= size {
			next = size + 1
		}
		table.boundaries = append(table.boundaries, next-1)
		size = next
	}
	return table
}

// numClasses returns the number of size classes, excluding the large list.
func (t *sizeClassTable) numClasses() int { return len(t.boundaries) }

// classOf returns the size class of size, or numClasses for the large list.
func (t *sizeClassTable) classOf(size int) int {
	lo, hi := 0, len(t.boundaries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if size <= t.boundaries[mid] {
			if mid == 0 || size > t.boundaries[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return len(t.boundaries)
}
