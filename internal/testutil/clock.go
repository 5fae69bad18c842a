package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StubClock stands in for dac.RealClock. Tests move it forward to make
// compliance jobs due or to expire job results. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock returns a StubClock reading t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock at 2024-06-01 12:00 UTC, the deploy time
// used throughout the ru29 fixtures.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator numbers deployment records "dep-1", "dep-2" and so on.
type StubIDGenerator struct {
	next atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("dep-%d", g.next.Add(1))
}
