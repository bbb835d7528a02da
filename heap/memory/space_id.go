package memory

// SpaceID identifies the space that owns a page.
type SpaceID uint8

const (
	NoSpace SpaceID = iota
	NewSpace
	OldSpace
	SharedSpace
	NewLargeObjectSpace
	LargeObjectSpace
	SharedLargeObjectSpace
)

func (id SpaceID) String() string {
	switch id {
	case NewSpace:
		return "new_space"
	case OldSpace:
		return "old_space"
	case SharedSpace:
		return "shared_space"
	case NewLargeObjectSpace:
		return "new_large_object_space"
	case LargeObjectSpace:
		return "large_object_space"
	case SharedLargeObjectSpace:
		return "shared_large_object_space"
	default:
		return "no_space"
	}
}

// IsYoung reports whether pages of the space belong to the young generation.
func (id SpaceID) IsYoung() bool {
	return id == NewSpace || id == NewLargeObjectSpace
}

// IsLarge reports whether the space holds one object per page.
func (id SpaceID) IsLarge() bool {
	return id == NewLargeObjectSpace || id == LargeObjectSpace || id == SharedLargeObjectSpace
}

// IsShared reports whether the space is part of the shared heap.
func (id SpaceID) IsShared() bool {
	return id == SharedSpace || id == SharedLargeObjectSpace
}
