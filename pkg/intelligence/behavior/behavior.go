package behavior

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// Behavior is per-tick logic bound to one component. It is a capability
// table of closures rather than an interface so new kinds are added by
// registering a Factory, and any private state lives in the closures.
type Behavior struct {
	Kind   string
	Impact domain.Impact

	// Writes names shared write targets beyond the owning component.
	// Components whose behaviors share a target never update concurrently.
	Writes []string

	Update    func(dt float64, tc *TickContext) error
	Potential func() float64
}

// Factory builds a behavior bound to a freshly instantiated component.
type Factory func(c *domain.ThreatComponent) Behavior

// SimulationContext is supplied by the host on every tick.
type SimulationContext struct {
	// Rand is the seeded source for all randomness in the tick. Replays
	// with the same seed produce identical results.
	Rand *rand.Rand

	// Nearby holds read-only snapshots of other threats near this one.
	Nearby []domain.ThreatSnapshot

	// Environment answers named environment queries, e.g. "detection_pressure".
	Environment func(query string) (float64, bool)
}

// TickContext is what a behavior sees during Update.
type TickContext struct {
	DeltaTime float64
	Tick      uint64
	Component *domain.ThreatComponent
	Rand      *rand.Rand
	Nearby    []domain.ThreatSnapshot

	env      func(string) (float64, bool)
	siblings []domain.ThreatComponent
	triggers *[]domain.EmergentTrigger
}

// Siblings returns pre-tick snapshots of the other components in the threat.
func (tc *TickContext) Siblings() []domain.ThreatComponent {
	out := make([]domain.ThreatComponent, 0, len(tc.siblings))
	for _, s := range tc.siblings {
		if s.ID != tc.Component.ID {
			out = append(out, s)
		}
	}
	return out
}

// Environment queries the host environment.
func (tc *TickContext) Environment(query string) (float64, bool) {
	if tc.env == nil {
		return 0, false
	}
	return tc.env(query)
}

// EmitEmergentEvent reports a candidate interaction trigger. The source is
// always the component being updated.
func (tc *TickContext) EmitEmergentEvent(t domain.EmergentTrigger) {
	t.SourceID = tc.Component.ID
	t.Boost = domain.Clamp01(t.Boost)
	*tc.triggers = append(*tc.triggers, t)
}

// Library maps behavior kinds to factories.
type Library struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{factories: make(map[string]Factory)}
}

// DefaultLibrary returns a library with every built-in kind registered.
func DefaultLibrary() *Library {
	lib := NewLibrary()
	for kind, f := range builtins() {
		lib.factories[kind] = f
	}
	return lib
}

// Register adds a factory for kind.
func (l *Library) Register(kind string, f Factory) error {
	if kind == "" {
		return fmt.Errorf("behavior kind is required")
	}
	if f == nil {
		return fmt.Errorf("behavior %q: factory is nil", kind)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.factories[kind]; exists {
		return fmt.Errorf("behavior %q already registered", kind)
	}
	l.factories[kind] = f
	return nil
}

// Factory looks up the factory for kind.
func (l *Library) Factory(kind string) (Factory, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds in sorted order.
func (l *Library) Kinds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kinds := make([]string, 0, len(l.factories))
	for k := range l.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Instance is a behavior bound to a live component, with its fault state.
type Instance struct {
	Behavior
	Disabled bool
}

// Bind instantiates every factory against c, in order.
func Bind(c *domain.ThreatComponent, factories []Factory) []*Instance {
	out := make([]*Instance, 0, len(factories))
	for _, f := range factories {
		b := f(c)
		if b.Potential == nil {
			b.Potential = func() float64 { return 0 }
		}
		out = append(out, &Instance{Behavior: b})
	}
	return out
}
