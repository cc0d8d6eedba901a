package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StubClock is a manually driven dedup.Clock.
type StubClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewStubClock(start time.Time) *StubClock {
	return &StubClock{now: start}
}

// FixedClock starts at 2025-03-01 12:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward, for reference-time assertions.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out UUID-shaped ids numbered from 1, so file ids and
// storage-id suffixes are predictable:
//
//	00000000-0000-0000-0000-000000000001
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", g.n.Add(1))
}
