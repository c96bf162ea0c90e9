package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dircheck/internal/audit"
)

// StubClock is a manually driven audit.Clock. Scans stamp their rows with
// Now, so tests advance it between scans to keep scan times distinct.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ audit.Clock = (*StubClock)(nil)

func NewStubClock(start time.Time) *StubClock {
	return &StubClock{now: start}
}

// FixedClock starts at 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out lease owner tokens "owner-1", "owner-2", ...
type StubIDGenerator struct {
	n atomic.Int64
}

var _ audit.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return "owner-" + strconv.FormatInt(g.n.Add(1), 10)
}
