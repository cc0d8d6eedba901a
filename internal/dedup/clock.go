package dedup

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so reference timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation for file ids and storage ids.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// StorageID builds the physical identifier for a stored copy of blockID.
// The suffix keeps two racing uploads of the same block from colliding.
func StorageID(blockID string, ids IDGenerator) string {
	return blockID + "_" + ids.New()
}
