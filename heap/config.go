package heap

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/format"
)

// Config sizes the heap and selects collector features.
//
// Use DefaultConfig() and override individual fields.
type Config struct {
	// ArenaPages is the number of 64 KiB pages reserved for the arena. The
	// first page is never used.
	// Default: 256 (16 MiB)
	ArenaPages int

	// SemiSpacePages is the size of each new-space semi-space in pages.
	// Default: 4
	SemiSpacePages int

	// OldSpaceMaxPages caps the old space.
	// Default: 64
	OldSpaceMaxPages int

	// SharedSpaceMaxPages caps the shared space.
	// Default: 16
	SharedSpaceMaxPages int

	// LabSizeInGC is the LAB size handed to collector allocators. Several
	// workers share a page by taking LABs of this size.
	// Default: 4 KiB
	LabSizeInGC int

	// Workers is the number of scavenger goroutines.
	// Default: 2
	Workers int

	// ShortcutStrings lets the scavenger bypass thin strings and cons strings
	// whose second part is empty.
	// Default: true
	ShortcutStrings bool

	// SharedStringTable promotes flat strings into the shared space.
	// Default: false
	SharedStringTable bool

	// StickyMarkBits keeps mark bits across cycles, which makes old-space
	// allocation permanently black.
	// Default: false
	StickyMarkBits bool

	// OldGenerationAllocationLimit is the old-generation size in bytes at
	// which a LAB refill starts incremental marking. 0 disables the check.
	// Default: 2 MiB
	OldGenerationAllocationLimit int64

	// OnOutOfMemory is called with the failing location before the heap
	// panics with an *OutOfMemoryError.
	// Default: nil
	OnOutOfMemory func(location string)
}

// DefaultConfig returns a small heap suitable for simulations and tests.
func DefaultConfig() Config {
	return Config{
		ArenaPages:                   256,
		SemiSpacePages:               4,
		OldSpaceMaxPages:             64,
		SharedSpaceMaxPages:          16,
		LabSizeInGC:                  4 << 10,
		Workers:                      2,
		ShortcutStrings:              true,
		OldGenerationAllocationLimit: 2 << 20,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.SemiSpacePages <= 0:
		return fmt.Errorf("%w: semi-space pages %d", ErrInvalidConfig, c.SemiSpacePages)
	case c.OldSpaceMaxPages <= 0:
		return fmt.Errorf("%w: old space pages %d", ErrInvalidConfig, c.OldSpaceMaxPages)
	case c.SharedSpaceMaxPages < 0:
		return fmt.Errorf("%w: shared space pages %d", ErrInvalidConfig, c.SharedSpaceMaxPages)
	case c.ArenaPages <= 2*c.SemiSpacePages+1:
		return fmt.Errorf("%w: %d arena pages cannot hold two semi-spaces of %d pages",
			ErrInvalidConfig, c.ArenaPages, c.SemiSpacePages)
	case c.LabSizeInGC < format.MinObjectSize || !format.IsObjectAligned(c.LabSizeInGC) || c.LabSizeInGC > format.PageSize:
		return fmt.Errorf("%w: gc lab size %d", ErrInvalidConfig, c.LabSizeInGC)
	case c.Workers <= 0:
		return fmt.Errorf("%w: %d workers", ErrInvalidConfig, c.Workers)
	}
	return nil
}
