package behavior

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
)

func TestLibraryRegister(t *testing.T) {
	lib := NewLibrary()
	noop := func(c *domain.ThreatComponent) Behavior { return Behavior{Kind: "noop"} }

	require.NoError(t, lib.Register("noop", noop))
	assert.Error(t, lib.Register("noop", noop), "duplicate kind")
	assert.Error(t, lib.Register("", noop))
	assert.Error(t, lib.Register("nil", nil))

	_, ok := lib.Factory("noop")
	assert.True(t, ok)
	_, ok = lib.Factory("missing")
	assert.False(t, ok)
}

func TestDefaultLibraryKinds(t *testing.T) {
	assert.Equal(t, []string{
		KindCatalysis,
		KindEncryption,
		KindEntanglement,
		KindInfection,
		KindMutation,
		KindPropagation,
		KindStealth,
		KindSwarm,
	}, DefaultLibrary().Kinds())
}

func TestBindDefaultsPotential(t *testing.T) {
	c := newComponent("a", "T", nil)
	insts := Bind(c, []Factory{func(*domain.ThreatComponent) Behavior { return Behavior{Kind: "bare"} }})
	require.Len(t, insts, 1)
	assert.Equal(t, 0.0, insts[0].Potential())
	assert.False(t, insts[0].Disabled)
}

func tickContext(c *domain.ThreatComponent, siblings ...*domain.ThreatComponent) (*TickContext, *[]domain.EmergentTrigger) {
	var triggers []domain.EmergentTrigger
	all := []domain.ThreatComponent{c.Clone()}
	for _, s := range siblings {
		all = append(all, s.Clone())
	}
	return &TickContext{
		DeltaTime: 0.5,
		Tick:      1,
		Component: c,
		Rand:      rand.New(rand.NewPCG(1, 1)),
		siblings:  all,
		triggers:  &triggers,
	}, &triggers
}

func TestBuiltinPropagation(t *testing.T) {
	c := newComponent("a", "PROPAGATION", map[string]any{"rate": 0.8, "reach": 0.4})
	b := newPropagation(c)
	tc, triggers := tickContext(c)

	require.NoError(t, b.Update(tc.DeltaTime, tc))
	reach, _ := c.Number("reach")
	assert.InDelta(t, 0.4+0.8*0.5*0.6, reach, 1e-9)
	require.Len(t, *triggers, 1)
	assert.Equal(t, "a", (*triggers)[0].SourceID)
	assert.InDelta(t, reach, b.Potential(), 1e-9)
}

func TestBuiltinEncryptionHardens(t *testing.T) {
	c := newComponent("a", "ENCRYPTION", map[string]any{})
	b := newEncryption(c)
	tc, _ := tickContext(c)

	prev := 0.0
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Update(1, tc))
		strength, ok := c.Number("cipherStrength")
		require.True(t, ok)
		assert.Greater(t, strength, prev)
		assert.Less(t, strength, 1.0)
		prev = strength
	}
}

func TestBuiltinCatalysisTriggersEverySibling(t *testing.T) {
	c := newComponent("cat", "CATALYST", map[string]any{"catalystLevel": 0.6})
	s1 := newComponent("s1", "X", nil)
	s2 := newComponent("s2", "Y", nil)
	tc, triggers := tickContext(c, s1, s2)

	require.NoError(t, newCatalysis(c).Update(1, tc))
	require.Len(t, *triggers, 2)
	assert.Equal(t, "s1", (*triggers)[0].TargetID)
	assert.Equal(t, "s2", (*triggers)[1].TargetID)
}

func TestBuiltinStealthUsesEnvironment(t *testing.T) {
	c := newComponent("a", "STEALTH", map[string]any{"detection": 0.5, "cloak": 0.2})
	tc, _ := tickContext(c)
	tc.env = func(q string) (float64, bool) {
		if q == "detection_pressure" {
			return 0.6, true
		}
		return 0, false
	}

	require.NoError(t, newStealth(c).Update(1, tc))
	detection, _ := c.Number("detection")
	assert.InDelta(t, 0.9, detection, 1e-9)
}

func TestBuiltinSwarmCapped(t *testing.T) {
	c := newComponent("a", "SWARM", map[string]any{"cohesion": 1.0, "size": SwarmMaxSize - 1})
	tc, _ := tickContext(c)
	tc.Nearby = make([]domain.ThreatSnapshot, 3)

	require.NoError(t, newSwarm(c).Update(1, tc))
	size, _ := c.Number("size")
	assert.Equal(t, SwarmMaxSize, size)
	assert.LessOrEqual(t, newSwarm(c).Potential(), 1.0)
}

func TestSiblingsExcludeSelf(t *testing.T) {
	c := newComponent("a", "T", nil)
	tc, _ := tickContext(c, newComponent("b", "T", nil))
	sibs := tc.Siblings()
	require.Len(t, sibs, 1)
	assert.Equal(t, "b", sibs[0].ID)

	_, ok := tc.Environment("anything")
	assert.False(t, ok)
}
