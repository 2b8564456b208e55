package performance

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// LevelPolicy is what a quality level permits per tick.
type LevelPolicy struct {
	MaxInteractions int     `mapstructure:"max_interactions" yaml:"max_interactions"`
	CPUCeiling      float64 `mapstructure:"cpu_ceiling" yaml:"cpu_ceiling"`
	DiscoveryEvery  uint64  `mapstructure:"discovery_every" yaml:"discovery_every"`
}

// DefaultPolicies returns the built-in level table.
func DefaultPolicies() map[domain.QualityLevel]LevelPolicy {
	return map[domain.QualityLevel]LevelPolicy{
		domain.QualityUltra:    {MaxInteractions: 512, CPUCeiling: 10, DiscoveryEvery: 1},
		domain.QualityHigh:     {MaxInteractions: 256, CPUCeiling: 5, DiscoveryEvery: 1},
		domain.QualityBalanced: {MaxInteractions: 96, CPUCeiling: 3, DiscoveryEvery: 2},
		domain.QualityLow:      {MaxInteractions: 32, CPUCeiling: 2, DiscoveryEvery: 4},
		domain.QualityMinimal:  {MaxInteractions: 8, CPUCeiling: 1, DiscoveryEvery: 4},
	}
}

// Config tunes the governor.
type Config struct {
	TargetTickBudget time.Duration
	UpperRatio       float64
	LowerRatio       float64
	DemoteAfter      int
	PromoteAfter     int

	// MaxComponentInteractions caps every level's budget. Zero means no cap.
	MaxComponentInteractions int

	// MaxQuality bounds promotion.
	MaxQuality domain.QualityLevel

	// Policies overrides entries of the default table.
	Policies map[domain.QualityLevel]LevelPolicy
}

// DefaultConfig returns the starting tunables.
func DefaultConfig() Config {
	return Config{
		TargetTickBudget: DefaultTargetTickBudget,
		UpperRatio:       DefaultUpperRatio,
		LowerRatio:       DefaultLowerRatio,
		DemoteAfter:      DefaultDemoteAfter,
		PromoteAfter:     DefaultPromoteAfter,
		MaxQuality:       domain.QualityUltra,
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.TargetTickBudget < 0 {
		return fmt.Errorf("target tick budget must be non-negative")
	}
	if c.LowerRatio < 0 || c.UpperRatio <= 0 || c.LowerRatio > c.UpperRatio {
		return fmt.Errorf("ratios must satisfy 0 <= lower (%g) <= upper (%g)", c.LowerRatio, c.UpperRatio)
	}
	if c.DemoteAfter < 1 || c.PromoteAfter < 1 {
		return fmt.Errorf("demote_after and promote_after must be at least 1")
	}
	if !c.MaxQuality.Valid() {
		return fmt.Errorf("invalid max quality %d", int(c.MaxQuality))
	}
	for level, p := range c.Policies {
		if !level.Valid() {
			return fmt.Errorf("policy for invalid quality level %d", int(level))
		}
		if p.DiscoveryEvery == 0 {
			return fmt.Errorf("policy %s: discovery_every must be at least 1", level)
		}
	}
	return nil
}

// Observation is the governor's verdict on one tick.
type Observation struct {
	Cost   time.Duration
	Budget time.Duration

	// OverBudget is set when the tick exceeded the upper threshold.
	OverBudget *domain.PerformanceBudgetExceeded

	// Change is set when the level moved.
	Change *domain.QualityChange
}

// Stats is the governor's inspectable state.
type Stats struct {
	Quality     domain.QualityLevel
	LastCost    time.Duration
	OverStreak  int
	UnderStreak int
	Demotions   int
	Promotions  int
}

// Governor adjusts one threat's quality level from observed tick cost.
// Observe runs on the tick goroutine; Allow and the other readers may be
// called concurrently from behavior workers.
type Governor struct {
	cfg      Config
	policies map[domain.QualityLevel]LevelPolicy
	level    atomic.Int32

	overStreak  int
	underStreak int
	lastCost    time.Duration
	demotions   int
	promotions  int
}

// NewGovernor creates a governor starting at initial.
func NewGovernor(cfg Config, initial domain.QualityLevel) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governor config: %w", err)
	}
	if !initial.Valid() {
		return nil, fmt.Errorf("invalid initial quality %d", int(initial))
	}
	if initial > cfg.MaxQuality {
		initial = cfg.MaxQuality
	}

	policies := DefaultPolicies()
	for level, p := range cfg.Policies {
		policies[level] = p
	}

	g := &Governor{cfg: cfg, policies: policies}
	g.level.Store(int32(initial))
	return g, nil
}

// Level returns the current quality level.
func (g *Governor) Level() domain.QualityLevel {
	return domain.QualityLevel(g.level.Load())
}

// Policy returns the policy of the current level.
func (g *Governor) Policy() LevelPolicy {
	return g.policies[g.Level()]
}

// Allow reports whether a behavior with impact may run at the current level.
func (g *Governor) Allow(impact domain.Impact) bool {
	return impact.CPUWeight <= g.Policy().CPUCeiling
}

// ShouldDiscover reports whether discovery runs on tick. The first tick
// always discovers.
func (g *Governor) ShouldDiscover(tick uint64) bool {
	every := g.Policy().DiscoveryEvery
	if every <= 1 || tick == 0 {
		return true
	}
	return (tick-1)%every == 0
}

// InteractionBudget is the number of pairs discovery may evaluate.
func (g *Governor) InteractionBudget() int {
	budget := g.Policy().MaxInteractions
	if limit := g.cfg.MaxComponentInteractions; limit > 0 && (budget <= 0 || limit < budget) {
		budget = limit
	}
	return budget
}

// Budget returns the target tick budget.
func (g *Governor) Budget() time.Duration {
	return g.cfg.TargetTickBudget
}

// Observe records the cost of a finished tick and moves the level by at
// most one step. A zero budget disables governance.
func (g *Governor) Observe(threatID string, tick uint64, cost time.Duration) Observation {
	obs := Observation{Cost: cost, Budget: g.cfg.TargetTickBudget}
	g.lastCost = cost
	if g.cfg.TargetTickBudget <= 0 {
		return obs
	}

	upper := time.Duration(float64(g.cfg.TargetTickBudget) * g.cfg.UpperRatio)
	lower := time.Duration(float64(g.cfg.TargetTickBudget) * g.cfg.LowerRatio)
	level := g.Level()

	switch {
	case cost > upper:
		g.overStreak++
		g.underStreak = 0
		obs.OverBudget = &domain.PerformanceBudgetExceeded{
			ThreatID:    threatID,
			Tick:        tick,
			Cost:        cost,
			Budget:      g.cfg.TargetTickBudget,
			Consecutive: g.overStreak,
		}
		if g.overStreak >= g.cfg.DemoteAfter && level > domain.QualityMinimal {
			next := level.Demote()
			g.level.Store(int32(next))
			g.overStreak = 0
			g.demotions++
			obs.Change = &domain.QualityChange{
				From:   level,
				To:     next,
				Reason: fmt.Sprintf("%d consecutive ticks over %s", g.cfg.DemoteAfter, upper),
			}
		}

	case cost < lower:
		g.underStreak++
		g.overStreak = 0
		if g.underStreak >= g.cfg.PromoteAfter && level < g.cfg.MaxQuality {
			next := level.Promote()
			g.level.Store(int32(next))
			g.underStreak = 0
			g.promotions++
			obs.Change = &domain.QualityChange{
				From:   level,
				To:     next,
				Reason: fmt.Sprintf("%d consecutive ticks under %s", g.cfg.PromoteAfter, lower),
			}
		}

	default:
		g.overStreak = 0
		g.underStreak = 0
	}
	return obs
}

// Stats returns a copy of the governor state.
func (g *Governor) Stats() Stats {
	return Stats{
		Quality:     g.Level(),
		LastCost:    g.lastCost,
		OverStreak:  g.overStreak,
		UnderStreak: g.underStreak,
		Demotions:   g.demotions,
		Promotions:  g.promotions,
	}
}
