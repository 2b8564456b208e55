package emergence

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func component(id string, potential float64, props map[string]any) *domain.ThreatComponent {
	return &domain.ThreatComponent{ID: id, TypeID: "T" + id, Domain: "cyber", Properties: props, EmergencePotential: potential}
}

func interactionFor(a, b *domain.ThreatComponent, strength float64, kind domain.InteractionKind) domain.ComponentInteraction {
	key := domain.NewPairKey(a.ID, b.ID)
	return domain.ComponentInteraction{
		Pair:          key,
		SourceID:      a.ID,
		TargetID:      b.ID,
		SourceType:    a.TypeID,
		TargetType:    b.TypeID,
		Strength:      strength,
		Kind:          kind,
		ConditionsMet: true,
	}
}

func newTestCatalog(t *testing.T, mutate func(*Config)) *Catalog {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewCatalog(zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	return c
}

func TestNewCatalogValidation(t *testing.T) {
	_, err := NewCatalog(nil, DefaultConfig())
	assert.Error(t, err)

	_, err = NewCatalog(zap.NewNop(), Config{ActivationThreshold: -1})
	assert.Error(t, err)

	c, err := NewCatalog(zap.NewNop(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxEmergentBehaviors, c.cfg.MaxEmergentBehaviors)
}

func TestEmergenceThreshold(t *testing.T) {
	tests := []struct {
		name       string
		potentialA float64
		potentialB float64
		activate   bool
	}{
		{name: "0.9 x 0.9 stays below 0.7", potentialA: 0.9, potentialB: 0.9, activate: false},
		{name: "0.95 x 0.9 crosses 0.7", potentialA: 0.95, potentialB: 0.9, activate: true},
		{name: "0.9 x 0.95 crosses 0.7", potentialA: 0.9, potentialB: 0.95, activate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newTestCatalog(t, func(c *Config) { c.ActivationThreshold = 0.7 })
			a := component("a", tt.potentialA, map[string]any{"rate": 0.5})
			b := component("b", tt.potentialB, map[string]any{"rate": 0.5})

			res := cat.Process(Input{
				ThreatID:     "t",
				Tick:         1,
				Components:   []*domain.ThreatComponent{a, b},
				Interactions: []domain.ComponentInteraction{interactionFor(a, b, 0.85, domain.InteractionSynergy)},
			})

			if tt.activate {
				require.Len(t, res.Activated, 1)
				assert.InDelta(t, 0.85*tt.potentialA*tt.potentialB, res.Activated[0].Score, 1e-9)
				assert.Equal(t, 1, cat.Len())
			} else {
				assert.Empty(t, res.Activated)
				assert.Equal(t, 0, cat.Len())
			}
		})
	}
}

func TestActivationIsIdempotent(t *testing.T) {
	cat := newTestCatalog(t, nil)
	a := component("a", 1, map[string]any{"rate": 0.5})
	b := component("b", 1, map[string]any{"rate": 0.5})
	in := Input{
		ThreatID:     "t",
		Components:   []*domain.ThreatComponent{a, b},
		Interactions: []domain.ComponentInteraction{interactionFor(a, b, 0.9, domain.InteractionSynergy)},
	}

	for tick := uint64(1); tick <= 10; tick++ {
		in.Tick = tick
		res := cat.Process(in)
		if tick == 1 {
			assert.Len(t, res.Activated, 1)
		} else {
			assert.Empty(t, res.Activated, "tick %d", tick)
		}
	}
	assert.Equal(t, 1, cat.Len())
	activations, _ := cat.Counts()
	assert.Equal(t, uint64(1), activations)
}

func TestConditionsAndMissingComponents(t *testing.T) {
	cat := newTestCatalog(t, nil)
	a := component("a", 1, nil)
	b := component("b", 1, nil)

	unmet := interactionFor(a, b, 1, domain.InteractionSynergy)
	unmet.ConditionsMet = false
	ghost := interactionFor(a, component("ghost", 1, nil), 1, domain.InteractionSynergy)

	res := cat.Process(Input{
		Tick:         1,
		Components:   []*domain.ThreatComponent{a, b},
		Interactions: []domain.ComponentInteraction{unmet, ghost},
	})
	assert.Empty(t, res.Activated)
}

func TestMaxEmergentBehaviorsAndOrdering(t *testing.T) {
	cat := newTestCatalog(t, func(c *Config) { c.MaxEmergentBehaviors = 2 })

	var comps []*domain.ThreatComponent
	for i := 0; i < 6; i++ {
		comps = append(comps, component(fmt.Sprintf("c%d", i), 1, map[string]any{"rate": 0.5}))
	}
	interactions := []domain.ComponentInteraction{
		interactionFor(comps[0], comps[1], 0.75, domain.InteractionSynergy),
		interactionFor(comps[2], comps[3], 0.95, domain.InteractionSynergy),
		interactionFor(comps[4], comps[5], 0.85, domain.InteractionSynergy),
	}

	res := cat.Process(Input{ThreatID: "t", Tick: 1, Components: comps, Interactions: interactions})
	require.Len(t, res.Activated, 2)
	assert.Equal(t, domain.NewPairKey("c2", "c3"), res.Activated[0].Origin)
	assert.Equal(t, domain.NewPairKey("c4", "c5"), res.Activated[1].Origin)
	assert.False(t, cat.IsActive(domain.NewPairKey("c0", "c1")))
}

func TestEffectsAndRevert(t *testing.T) {
	cat := newTestCatalog(t, func(c *Config) {
		c.DecayTicks = 10
		c.CooldownTicks = 5
		c.EffectScale = 0.1
	})
	a := component("a", 1, map[string]any{"rate": 0.5, "only_a": 1.0})
	b := component("b", 1, map[string]any{"rate": 0.4})
	ix := interactionFor(a, b, 1, domain.InteractionSynergy)
	in := Input{ThreatID: "t", Tick: 1, Components: []*domain.ThreatComponent{a, b}, Interactions: []domain.ComponentInteraction{ix}}

	res := cat.Process(in)
	require.Len(t, res.Activated, 1)
	eb := res.Activated[0]
	assert.Equal(t, uint64(10), eb.Decay.DurationTicks)
	assert.True(t, eb.Decay.Reversible)
	require.Len(t, eb.Effects, 2, "only the shared property is amplified")

	rate, _ := a.Value("rate")
	assert.InDelta(t, 0.5*1.1, rate, 1e-9)
	base, _ := a.Number("rate")
	assert.Equal(t, 0.5, base, "base properties are untouched")

	// Still active before the decay window closes.
	in.Tick = 10
	res = cat.Process(in)
	assert.Empty(t, res.Deactivated)

	in.Tick = 11
	res = cat.Process(in)
	require.Len(t, res.Deactivated, 1)
	assert.Equal(t, ReasonExpired, res.Deactivated[0].Reason)
	assert.True(t, res.Deactivated[0].Reverted)
	assert.Empty(t, a.Modifiers)
	assert.Empty(t, b.Modifiers)
	assert.Empty(t, res.Activated, "cooldown blocks immediate re-activation")

	in.Tick = 16
	res = cat.Process(in)
	require.Len(t, res.Activated, 1)
	assert.False(t, res.Activated[0].Novel)
	assert.NotEqual(t, eb.ID, res.Activated[0].ID)
}

func TestEffectKinds(t *testing.T) {
	tests := []struct {
		name   string
		kind   domain.InteractionKind
		expect map[string]float64 // "component.property" -> delta
	}{
		{
			name:   "conflict dampens shared",
			kind:   domain.InteractionConflict,
			expect: map[string]float64{"src.rate": -0.05, "dst.rate": -0.1},
		},
		{
			name:   "transformation moves target into source",
			kind:   domain.InteractionTransformation,
			expect: map[string]float64{"dst.rate": -0.1, "src.rate": 0.1, "dst.level": -0.02, "src.level": 0.02},
		},
		{
			name:   "propagation spreads source onto target",
			kind:   domain.InteractionPropagation,
			expect: map[string]float64{"dst.rate": 0.05},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := component("src", 1, map[string]any{"rate": 0.5})
			dst := component("dst", 1, map[string]any{"rate": 1.0, "level": 0.2})
			ix := interactionFor(src, dst, 1, tt.kind)

			got := make(map[string]float64)
			for _, e := range effectsFor(ix, src, dst, 0.1) {
				got[e.ComponentID+"."+e.Property] += e.Delta
			}
			require.Len(t, got, len(tt.expect))
			for k, v := range tt.expect {
				assert.InDelta(t, v, got[k], 1e-9, k)
			}
		})
	}
}

func TestTransformationIsIrreversible(t *testing.T) {
	cat := newTestCatalog(t, func(c *Config) { c.DecayTicks = 1 })
	src := component("a", 1, map[string]any{"rate": 0.5})
	dst := component("b", 1, map[string]any{"rate": 0.5})
	in := Input{
		Tick:         1,
		Components:   []*domain.ThreatComponent{src, dst},
		Interactions: []domain.ComponentInteraction{interactionFor(src, dst, 1, domain.InteractionTransformation)},
	}

	res := cat.Process(in)
	require.Len(t, res.Activated, 1)
	assert.False(t, res.Activated[0].Decay.Reversible)
	assert.Equal(t, uint64(2), res.Activated[0].Decay.DurationTicks)

	in.Tick = 3
	in.Interactions = nil
	res = cat.Process(in)
	require.Len(t, res.Deactivated, 1)
	assert.False(t, res.Deactivated[0].Reverted)
	v, _ := src.Value("rate")
	assert.Greater(t, v, 0.5)
}

func TestRemoveComponent(t *testing.T) {
	cat := newTestCatalog(t, nil)
	a := component("a", 1, map[string]any{"rate": 0.5})
	b := component("b", 1, map[string]any{"rate": 0.5})
	c := component("c", 1, map[string]any{"rate": 0.5})
	cat.Process(Input{
		ThreatID:   "t",
		Tick:       1,
		Components: []*domain.ThreatComponent{a, b, c},
		Interactions: []domain.ComponentInteraction{
			interactionFor(a, b, 1, domain.InteractionSynergy),
			interactionFor(b, c, 1, domain.InteractionSynergy),
		},
	})
	require.Equal(t, 2, cat.Len())

	out := cat.RemoveComponent("t", "a", 2, []*domain.ThreatComponent{b, c})
	require.Len(t, out, 1)
	assert.Equal(t, ReasonOriginRemoved, out[0].Reason)
	assert.Equal(t, 1, cat.Len())

	// b keeps only the b|c synergy boost.
	v, _ := b.Value("rate")
	assert.InDelta(t, 0.5*1.1, v, 1e-9)
}

func TestCheckConsistency(t *testing.T) {
	cat := newTestCatalog(t, nil)
	a := component("a", 1, map[string]any{"rate": 0.5})
	b := component("b", 1, map[string]any{"rate": 0.5})
	cat.Process(Input{
		ThreatID:     "t",
		Tick:         1,
		Components:   []*domain.ThreatComponent{a, b},
		Interactions: []domain.ComponentInteraction{interactionFor(a, b, 1, domain.InteractionSynergy)},
	})

	deactivated, issues := cat.CheckConsistency("t", 2, []*domain.ThreatComponent{a, b})
	assert.Empty(t, deactivated)
	assert.Empty(t, issues)

	deactivated, issues = cat.CheckConsistency("t", 2, []*domain.ThreatComponent{a})
	require.Len(t, issues, 1)
	assert.Equal(t, "b", issues[0].MissingID)
	assert.Equal(t, "emergent_catalog", issues[0].Source)
	require.Len(t, deactivated, 1)
	assert.Equal(t, ReasonInconsistent, deactivated[0].Reason)
	assert.Empty(t, a.Modifiers, "surviving side is reverted")
	assert.Equal(t, 0, cat.Len())
}

func TestNoveltyAndHistory(t *testing.T) {
	cat := newTestCatalog(t, func(c *Config) {
		c.HistorySize = 3
		c.DecayTicks = 1
		c.CooldownTicks = 0
	})
	a := component("a", 1, map[string]any{"rate": 0.5})
	b := component("b", 1, map[string]any{"rate": 0.5})
	in := Input{
		ThreatID:     "t",
		Components:   []*domain.ThreatComponent{a, b},
		Interactions: []domain.ComponentInteraction{interactionFor(a, b, 1, domain.InteractionSynergy)},
	}

	key := domain.NewPairKey("a", "b")
	assert.False(t, cat.EverActivated(key))

	for tick := uint64(1); tick <= 5; tick++ {
		in.Tick = tick
		cat.Process(in)
	}
	assert.True(t, cat.EverActivated(key))

	history := cat.History()
	require.Len(t, history, 3)
	assert.Equal(t, uint64(3), history[0].ActivationTick)
	assert.Equal(t, uint64(5), history[2].ActivationTick)
	assert.Equal(t, ReasonExpired, history[0].Reason)
	assert.False(t, history[0].Novel)
}

func TestDeterministicIDsAndJitter(t *testing.T) {
	run := func() (domain.EmergentBehavior, float64) {
		cat := newTestCatalog(t, func(c *Config) { c.EffectJitter = 0.5 })
		a := component("a", 1, map[string]any{"rate": 0.5})
		b := component("b", 1, map[string]any{"rate": 0.5})
		res := cat.Process(Input{
			ThreatID:     "threat-1",
			Tick:         4,
			Components:   []*domain.ThreatComponent{a, b},
			Interactions: []domain.ComponentInteraction{interactionFor(a, b, 1, domain.InteractionSynergy)},
			Rand:         rand.New(rand.NewPCG(9, 9)),
		})
		require.Len(t, res.Activated, 1)
		v, _ := a.Value("rate")
		return res.Activated[0], v
	}

	first, v1 := run()
	second, v2 := run()
	assert.Equal(t, first, second)
	assert.Equal(t, v1, v2)
	assert.True(t, first.Novel)
}

func TestActiveOrdering(t *testing.T) {
	cat := newTestCatalog(t, nil)
	a := component("a", 1, map[string]any{"rate": 0.5})
	b := component("b", 1, map[string]any{"rate": 0.5})
	c := component("c", 1, map[string]any{"rate": 0.5})
	comps := []*domain.ThreatComponent{a, b, c}

	cat.Process(Input{Tick: 1, Components: comps, Interactions: []domain.ComponentInteraction{interactionFor(b, c, 1, domain.InteractionSynergy)}})
	cat.Process(Input{Tick: 2, Components: comps, Interactions: []domain.ComponentInteraction{interactionFor(a, b, 1, domain.InteractionSynergy)}})

	active := cat.Active()
	require.Len(t, active, 2)
	assert.Equal(t, uint64(1), active[0].ActivationTick)
	assert.Equal(t, uint64(2), active[1].ActivationTick)

	cleared := cat.Clear("t", 3, comps)
	assert.Len(t, cleared, 2)
	assert.Equal(t, 0, cat.Len())
	for _, comp := range comps {
		assert.Empty(t, comp.Modifiers)
	}
}

func TestActivationScore(t *testing.T) {
	assert.InDelta(t, 0.6885, ActivationScore(0.85, 0.9, 0.9), 1e-9)
	assert.InDelta(t, 0.72675, ActivationScore(0.85, 0.95, 0.9), 1e-9)
}
