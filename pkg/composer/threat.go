package composer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"github.com/yairfalse/threatforge/pkg/intelligence/emergence"
	"github.com/yairfalse/threatforge/pkg/intelligence/interaction"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
)

// Threat is a composed threat: the aggregate root owning its components,
// their behaviors, the interaction and emergent state derived from them,
// and its quality governor. Components reference each other by id only.
type Threat struct {
	mu sync.Mutex

	id          string
	tick        uint64
	nextOrdinal uint64

	components []*domain.ThreatComponent
	behaviors  [][]*behavior.Instance // parallel to components
	faults     []domain.BehaviorFault

	discovery *interaction.Engine
	catalog   *emergence.Catalog
	governor  *performance.Governor

	perf          domain.PerformanceMetrics
	discoveryRuns uint64

	updating         atomic.Bool
	destroyRequested atomic.Bool
	destroyed        bool
}

// ID returns the threat id.
func (t *Threat) ID() string {
	return t.id
}

// Tick returns the number of completed ticks.
func (t *Threat) Tick() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tick
}

// Quality returns the threat's current quality level.
func (t *Threat) Quality() domain.QualityLevel {
	return t.governor.Level()
}

// Destroyed reports whether the threat has been torn down.
func (t *Threat) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// ComponentIDs returns component ids in composition order.
func (t *Threat) ComponentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.components))
	for i, c := range t.components {
		ids[i] = c.ID
	}
	return ids
}

// Component returns a copy of the component with id.
func (t *Threat) Component(id string) (domain.ThreatComponent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(id); i >= 0 {
		return t.components[i].Clone(), true
	}
	return domain.ThreatComponent{}, false
}

// Faults returns the recorded behavior faults.
func (t *Threat) Faults() []domain.BehaviorFault {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.BehaviorFault(nil), t.faults...)
}

// EmergentBehaviors returns the active emergent behaviors.
func (t *Threat) EmergentBehaviors() []domain.EmergentBehavior {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog.Active()
}

// History returns the emergent activation history, oldest first.
func (t *Threat) History() []emergence.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog.History()
}

// Snapshot returns a read-only copy of the threat's state.
func (t *Threat) Snapshot() domain.ThreatSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Threat) snapshotLocked() domain.ThreatSnapshot {
	comps := make([]domain.ThreatComponent, len(t.components))
	for i, c := range t.components {
		comps[i] = c.Clone()
	}

	perf := t.perf
	gs := t.governor.Stats()
	ds := t.discovery.Stats()
	perf.Quality = gs.Quality
	perf.LastTickCost = gs.LastCost
	perf.TickBudget = t.governor.Budget()
	perf.Demotions = gs.Demotions
	perf.Promotions = gs.Promotions
	perf.OverBudgetStreak = gs.OverStreak
	perf.CacheHits = ds.CacheHits
	perf.CacheMisses = ds.CacheMisses
	perf.DiscoveryRuns = t.discoveryRuns

	return domain.ThreatSnapshot{
		ID:                t.id,
		Tick:              t.tick,
		Quality:           gs.Quality,
		Components:        comps,
		EmergentBehaviors: t.catalog.Active(),
		Interactions:      t.discovery.Interactions(),
		Faults:            append([]domain.BehaviorFault{}, t.faults...),
		Performance:       perf,
		Destroyed:         t.destroyed,
	}
}

// MarshalJSON encodes the threat as its snapshot.
func (t *Threat) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

func (t *Threat) indexOf(id string) int {
	for i, c := range t.components {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (t *Threat) setComponentQuality(level domain.QualityLevel) {
	for _, c := range t.components {
		c.QualityLevel = level
	}
}
