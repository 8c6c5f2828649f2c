package miner

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so synchronization is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator mints resource identifiers. Identifiers are opaque and never
// derived from paths, so they survive renames.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces urn:uuid resource identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().URN() }
