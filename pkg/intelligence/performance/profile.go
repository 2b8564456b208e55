package performance

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// Profile is the process-wide quality setting shared by every threat. New
// threats start at the profile's level; each threat's governor then
// adjusts its own copy.
type Profile struct {
	level atomic.Int32
}

// NewProfile creates a profile at level.
func NewProfile(level domain.QualityLevel) *Profile {
	p := &Profile{}
	p.Set(level)
	return p
}

// Level returns the current level.
func (p *Profile) Level() domain.QualityLevel {
	return domain.QualityLevel(p.level.Load())
}

// Set changes the level. Invalid levels are ignored.
func (p *Profile) Set(level domain.QualityLevel) {
	if level.Valid() {
		p.level.Store(int32(level))
	}
}

// Clock measures tick cost.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type realClock struct{}

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

type fixedCostClock struct{ cost time.Duration }

func (fixedCostClock) Now() time.Time                  { return time.Time{} }
func (c fixedCostClock) Since(time.Time) time.Duration { return c.cost }

// FixedCostClock returns a Clock that reports every tick as costing d.
// Governance driven by it depends only on the tick count.
func FixedCostClock(d time.Duration) Clock { return fixedCostClock{cost: d} }

// ManualClock is a Clock moved only by Advance. Hosts use it to feed
// simulated tick costs, tests use it for determinism.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
