package behavior

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newComponent(id, typeID string, props map[string]any) *domain.ThreatComponent {
	return &domain.ThreatComponent{
		ID:                 id,
		TypeID:             typeID,
		Domain:             "cyber",
		Properties:         props,
		EmergencePotential: 0.5,
	}
}

func counting(kind string, calls *int) Factory {
	return func(c *domain.ThreatComponent) Behavior {
		return Behavior{
			Kind:   kind,
			Impact: domain.Impact{CPUWeight: 1},
			Update: func(dt float64, tc *TickContext) error {
				*calls++
				return nil
			},
			Potential: func() float64 { return 0.4 },
		}
	}
}

type ceilingGate struct{ ceiling float64 }

func (g ceilingGate) Allow(impact domain.Impact) bool { return impact.CPUWeight <= g.ceiling }

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(nil, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")

	r, err := NewRunner(zap.NewNop(), 2)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestRunnerFaultIsolation(t *testing.T) {
	tests := []struct {
		name     string
		factory  Factory
		panicked bool
	}{
		{
			name: "returned error",
			factory: func(c *domain.ThreatComponent) Behavior {
				return Behavior{Kind: "broken", Update: func(float64, *TickContext) error {
					return errors.New("boom")
				}}
			},
		},
		{
			name: "panic",
			factory: func(c *domain.ThreatComponent) Behavior {
				return Behavior{Kind: "broken", Update: func(float64, *TickContext) error {
					panic("kaboom")
				}}
			},
			panicked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(zaptest.NewLogger(t), 4)
			require.NoError(t, err)

			bad := newComponent("a", "BAD", map[string]any{})
			good := newComponent("b", "GOOD", map[string]any{})
			var goodCalls int
			in := Input{
				ThreatID:   "threat-1",
				Tick:       1,
				DeltaTime:  0.1,
				Components: []*domain.ThreatComponent{bad, good},
				Behaviors: [][]*Instance{
					Bind(bad, []Factory{tt.factory}),
					Bind(good, []Factory{counting("ok", &goodCalls)}),
				},
				Sim: SimulationContext{Rand: rand.New(rand.NewPCG(1, 2))},
			}

			res := r.Run(in)
			require.Len(t, res.Faults, 1)
			assert.Equal(t, 1, res.Faulted)
			assert.Equal(t, 1, res.Ran)
			assert.Equal(t, 1, goodCalls)

			fault := res.Faults[0]
			assert.Equal(t, "threat-1", fault.ThreatID)
			assert.Equal(t, "a", fault.ComponentID)
			assert.Equal(t, "broken", fault.BehaviorKind)
			assert.Equal(t, tt.panicked, fault.Panicked)
			assert.True(t, in.Behaviors[0][0].Disabled)

			// Disabled is terminal: no second fault, healthy side keeps running.
			in.Tick = 2
			res = r.Run(in)
			assert.Empty(t, res.Faults)
			assert.Equal(t, 2, goodCalls)
			assert.Equal(t, 1, res.Active)
		})
	}
}

func TestRunnerGateSkipsExpensiveBehaviors(t *testing.T) {
	r, err := NewRunner(zap.NewNop(), 1)
	require.NoError(t, err)

	c := newComponent("a", "ENC", map[string]any{"cycles": 0.0})
	lib := DefaultLibrary()
	enc, ok := lib.Factory(KindEncryption)
	require.True(t, ok)
	stealth, ok := lib.Factory(KindStealth)
	require.True(t, ok)

	res := r.Run(Input{
		ThreatID:   "t",
		Tick:       1,
		DeltaTime:  1,
		Components: []*domain.ThreatComponent{c},
		Behaviors:  [][]*Instance{Bind(c, []Factory{enc, stealth})},
		Gate:       ceilingGate{ceiling: 1},
	})

	assert.Equal(t, 1, res.Ran)
	assert.Equal(t, 1, res.Skipped)
	cycles, _ := c.Number("cycles")
	assert.Equal(t, 0.0, cycles, "encryption must not run above the ceiling")
}

func TestRunnerDeterministicAcrossConcurrency(t *testing.T) {
	build := func() ([]*domain.ThreatComponent, [][]*Instance) {
		lib := DefaultLibrary()
		var comps []*domain.ThreatComponent
		var binds [][]*Instance
		for i, kind := range []string{KindInfection, KindMutation, KindInfection, KindMutation, KindEntanglement, KindEntanglement} {
			c := newComponent(string(rune('a'+i)), kind, map[string]any{
				"transmissionRate": 0.6,
				"infected":         0.05,
				"mutationRate":     0.5,
				"variance":         0.2,
				"coherence":        0.3,
			})
			f, ok := lib.Factory(kind)
			require.True(t, ok)
			comps = append(comps, c)
			binds = append(binds, Bind(c, []Factory{f}))
		}
		return comps, binds
	}

	run := func(concurrency int) []domain.ThreatComponent {
		r, err := NewRunner(zap.NewNop(), concurrency)
		require.NoError(t, err)
		comps, binds := build()
		rng := rand.New(rand.NewPCG(42, 7))
		for tick := uint64(1); tick <= 50; tick++ {
			r.Run(Input{
				ThreatID:   "t",
				Tick:       tick,
				DeltaTime:  0.05,
				Components: comps,
				Behaviors:  binds,
				Sim:        SimulationContext{Rand: rng},
			})
		}
		out := make([]domain.ThreatComponent, len(comps))
		for i, c := range comps {
			out[i] = c.Clone()
		}
		return out
	}

	assert.Equal(t, run(1), run(8))
}

func TestRunnerTriggersMergedInComponentOrder(t *testing.T) {
	r, err := NewRunner(zap.NewNop(), 4)
	require.NoError(t, err)

	emit := func(c *domain.ThreatComponent) Behavior {
		return Behavior{Kind: "emit", Update: func(dt float64, tc *TickContext) error {
			tc.EmitEmergentEvent(domain.EmergentTrigger{Boost: 2, Reason: "x"})
			return nil
		}}
	}
	var comps []*domain.ThreatComponent
	var binds [][]*Instance
	for _, id := range []string{"c1", "c2", "c3"} {
		c := newComponent(id, "T", map[string]any{})
		comps = append(comps, c)
		binds = append(binds, Bind(c, []Factory{emit}))
	}

	res := r.Run(Input{ThreatID: "t", Tick: 1, DeltaTime: 1, Components: comps, Behaviors: binds})
	require.Len(t, res.Triggers, 3)
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, id, res.Triggers[i].SourceID)
		assert.Equal(t, 1.0, res.Triggers[i].Boost, "boost is clamped")
	}
}

func TestRunnerSiblingsArePreTickSnapshots(t *testing.T) {
	r, err := NewRunner(zap.NewNop(), 1)
	require.NoError(t, err)

	var seen []float64
	writer := func(c *domain.ThreatComponent) Behavior {
		return Behavior{Kind: "writer", Update: func(dt float64, tc *TickContext) error {
			tc.Component.SetNumber("level", 9)
			return nil
		}}
	}
	reader := func(c *domain.ThreatComponent) Behavior {
		return Behavior{Kind: "reader", Update: func(dt float64, tc *TickContext) error {
			for _, s := range tc.Siblings() {
				v, _ := s.Number("level")
				seen = append(seen, v)
			}
			return nil
		}}
	}
	a := newComponent("a", "W", map[string]any{"level": 1.0})
	b := newComponent("b", "R", map[string]any{})

	r.Run(Input{
		ThreatID:   "t",
		Tick:       1,
		DeltaTime:  1,
		Components: []*domain.ThreatComponent{a, b},
		Behaviors:  [][]*Instance{Bind(a, []Factory{writer}), Bind(b, []Factory{reader})},
	})
	assert.Equal(t, []float64{1}, seen)
}

func TestRunnerPotential(t *testing.T) {
	r, err := NewRunner(zap.NewNop(), 1)
	require.NoError(t, err)

	var calls int
	a := newComponent("a", "T", map[string]any{})
	res := r.Run(Input{
		ThreatID:   "t",
		Tick:       1,
		DeltaTime:  1,
		Components: []*domain.ThreatComponent{a},
		Behaviors:  [][]*Instance{Bind(a, []Factory{counting("x", &calls), counting("y", &calls)})},
	})
	assert.InDelta(t, 0.4, res.Potential["a"], 1e-9)
	assert.InDelta(t, 0.4, res.TotalPotential(), 1e-9)
}

func TestWriteGroups(t *testing.T) {
	inst := func(writes ...string) []*Instance {
		return []*Instance{{Behavior: Behavior{Writes: writes}}}
	}
	groups := writeGroups([][]*Instance{
		inst("field-a"),
		inst(),
		inst("field-b"),
		inst("field-a", "field-c"),
		inst("field-c"),
		inst("field-b"),
	})
	assert.Equal(t, [][]int{{0, 3, 4}, {1}, {2, 5}}, groups)
}
