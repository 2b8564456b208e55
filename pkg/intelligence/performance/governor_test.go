package performance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetTickBudget = 10 * time.Millisecond
	cfg.DemoteAfter = 3
	cfg.PromoteAfter = 5
	return cfg
}

func TestNewGovernorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "negative budget", mutate: func(c *Config) { c.TargetTickBudget = -1 }},
		{name: "lower above upper", mutate: func(c *Config) { c.LowerRatio = 2 }},
		{name: "zero demote", mutate: func(c *Config) { c.DemoteAfter = 0 }},
		{name: "bad max quality", mutate: func(c *Config) { c.MaxQuality = 42 }},
		{name: "zero discovery interval", mutate: func(c *Config) {
			c.Policies = map[domain.QualityLevel]LevelPolicy{domain.QualityLow: {DiscoveryEvery: 0}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewGovernor(cfg, domain.QualityHigh)
			assert.Error(t, err)
		})
	}

	_, err := NewGovernor(testConfig(), domain.QualityLevel(-1))
	assert.Error(t, err)
}

func TestDemotionIsSingleStep(t *testing.T) {
	g, err := NewGovernor(testConfig(), domain.QualityHigh)
	require.NoError(t, err)

	var changes []*domain.QualityChange
	for tick := uint64(1); tick <= 3; tick++ {
		obs := g.Observe("t", tick, 50*time.Millisecond)
		require.NotNil(t, obs.OverBudget)
		assert.Equal(t, int(tick), obs.OverBudget.Consecutive)
		if obs.Change != nil {
			changes = append(changes, obs.Change)
		}
	}

	require.Len(t, changes, 1)
	assert.Equal(t, domain.QualityHigh, changes[0].From)
	assert.Equal(t, domain.QualityBalanced, changes[0].To)
	assert.Equal(t, domain.QualityBalanced, g.Level())

	// The streak restarts after a transition.
	obs := g.Observe("t", 4, 50*time.Millisecond)
	assert.Nil(t, obs.Change)
	assert.Equal(t, domain.QualityBalanced, g.Level())
	assert.Equal(t, 1, g.Stats().Demotions)
}

func TestHysteresis(t *testing.T) {
	g, err := NewGovernor(testConfig(), domain.QualityBalanced)
	require.NoError(t, err)

	// Alternating over and in-band never demotes.
	for tick := uint64(1); tick <= 20; tick++ {
		cost := 50 * time.Millisecond
		if tick%3 == 0 {
			cost = 8 * time.Millisecond
		}
		g.Observe("t", tick, cost)
	}
	assert.Equal(t, domain.QualityBalanced, g.Level())

	// Five cheap ticks promote one step.
	for tick := uint64(21); tick <= 25; tick++ {
		g.Observe("t", tick, time.Millisecond)
	}
	assert.Equal(t, domain.QualityHigh, g.Level())
	assert.Equal(t, 1, g.Stats().Promotions)
}

func TestLevelBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQuality = domain.QualityHigh

	g, err := NewGovernor(cfg, domain.QualityUltra)
	require.NoError(t, err)
	assert.Equal(t, domain.QualityHigh, g.Level(), "initial level capped")

	for tick := uint64(1); tick <= 20; tick++ {
		assert.Nil(t, g.Observe("t", tick, 0).Change)
	}
	assert.Equal(t, domain.QualityHigh, g.Level())

	low, err := NewGovernor(cfg, domain.QualityMinimal)
	require.NoError(t, err)
	for tick := uint64(1); tick <= 10; tick++ {
		obs := low.Observe("t", tick, time.Second)
		assert.Nil(t, obs.Change)
		assert.NotNil(t, obs.OverBudget)
	}
	assert.Equal(t, domain.QualityMinimal, low.Level())
}

func TestZeroBudgetDisablesGovernance(t *testing.T) {
	cfg := testConfig()
	cfg.TargetTickBudget = 0
	g, err := NewGovernor(cfg, domain.QualityHigh)
	require.NoError(t, err)

	for tick := uint64(1); tick <= 10; tick++ {
		obs := g.Observe("t", tick, time.Second)
		assert.Nil(t, obs.OverBudget)
		assert.Nil(t, obs.Change)
	}
	assert.Equal(t, time.Second, g.Stats().LastCost)
}

func TestLevelPolicies(t *testing.T) {
	tests := []struct {
		level          domain.QualityLevel
		discoveryEvery uint64
		allowEncrypt   bool // cpu weight 4
	}{
		{domain.QualityUltra, 1, true},
		{domain.QualityHigh, 1, true},
		{domain.QualityBalanced, 2, false},
		{domain.QualityLow, 4, false},
		{domain.QualityMinimal, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			g, err := NewGovernor(testConfig(), tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.discoveryEvery, g.Policy().DiscoveryEvery)
			assert.Equal(t, tt.allowEncrypt, g.Allow(domain.Impact{CPUWeight: 4}))
			assert.True(t, g.Allow(domain.Impact{CPUWeight: 0.5}))

			var runs int
			for tick := uint64(1); tick <= 8; tick++ {
				if g.ShouldDiscover(tick) {
					runs++
				}
			}
			assert.Equal(t, int(8/tt.discoveryEvery), runs)
			assert.True(t, g.ShouldDiscover(1), "first tick always discovers")
		})
	}
}

func TestInteractionBudget(t *testing.T) {
	cfg := testConfig()
	g, err := NewGovernor(cfg, domain.QualityUltra)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies()[domain.QualityUltra].MaxInteractions, g.InteractionBudget())

	cfg.MaxComponentInteractions = 10
	g, err = NewGovernor(cfg, domain.QualityUltra)
	require.NoError(t, err)
	assert.Equal(t, 10, g.InteractionBudget())

	cfg.Policies = map[domain.QualityLevel]LevelPolicy{domain.QualityUltra: {MaxInteractions: 4, CPUCeiling: 1, DiscoveryEvery: 1}}
	g, err = NewGovernor(cfg, domain.QualityUltra)
	require.NoError(t, err)
	assert.Equal(t, 4, g.InteractionBudget())
	assert.False(t, g.Allow(domain.Impact{CPUWeight: 2}))
}

func TestAllowIsConcurrencySafe(t *testing.T) {
	g, err := NewGovernor(testConfig(), domain.QualityHigh)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				g.Allow(domain.Impact{CPUWeight: 3})
				g.InteractionBudget()
			}
		}()
	}
	for tick := uint64(1); tick <= 30; tick++ {
		g.Observe("t", tick, time.Second)
	}
	wg.Wait()
	assert.Equal(t, domain.QualityMinimal, g.Level())
}

func TestFixedCostClockReplaysGovernance(t *testing.T) {
	play := func() []Stats {
		g, err := NewGovernor(testConfig(), domain.QualityUltra)
		require.NoError(t, err)
		clock := FixedCostClock(20 * time.Millisecond)

		var out []Stats
		for tick := uint64(1); tick <= 12; tick++ {
			start := clock.Now()
			g.Observe("t", tick, clock.Since(start))
			out = append(out, g.Stats())
		}
		return out
	}

	first := play()
	assert.Equal(t, first, play())
	last := first[len(first)-1]
	assert.Equal(t, 4, last.Demotions, "demotes every third over-budget tick")
	assert.Equal(t, domain.QualityMinimal, last.Quality)
}

func TestProfileAndClock(t *testing.T) {
	p := NewProfile(domain.QualityBalanced)
	assert.Equal(t, domain.QualityBalanced, p.Level())
	p.Set(domain.QualityUltra)
	assert.Equal(t, domain.QualityUltra, p.Level())
	p.Set(domain.QualityLevel(99))
	assert.Equal(t, domain.QualityUltra, p.Level())

	start := time.Unix(0, 0)
	clock := NewManualClock(start)
	t0 := clock.Now()
	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, clock.Since(t0))

	fixed := FixedCostClock(3 * time.Millisecond)
	assert.Equal(t, 3*time.Millisecond, fixed.Since(fixed.Now()))
	assert.Equal(t, 3*time.Millisecond, fixed.Since(time.Unix(100, 0)))

	wall := RealClock()
	assert.GreaterOrEqual(t, wall.Since(wall.Now()), time.Duration(0))
}
