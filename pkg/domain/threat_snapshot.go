package domain

import "time"

// PerformanceMetrics is the inspectable per-threat cost and governor state.
type PerformanceMetrics struct {
	Quality           QualityLevel  `json:"quality"`
	LastTickCost      time.Duration `json:"last_tick_cost"`
	TickBudget        time.Duration `json:"tick_budget"`
	BehaviorsRun      int           `json:"behaviors_run"`
	BehaviorsSkipped  int           `json:"behaviors_skipped"`
	BehaviorsFaulted  int           `json:"behaviors_faulted"`
	BehaviorsActive   int           `json:"behaviors_active"`
	PairsEvaluated    int           `json:"pairs_evaluated"`
	PairsDeferred     int           `json:"pairs_deferred"`
	CacheHits         uint64        `json:"cache_hits"`
	CacheMisses       uint64        `json:"cache_misses"`
	DiscoveryRuns     uint64        `json:"discovery_runs"`
	Demotions         int           `json:"demotions"`
	Promotions        int           `json:"promotions"`
	OverBudgetStreak  int           `json:"over_budget_streak"`
	EmergentPotential float64       `json:"emergent_potential"`
}

// ThreatSnapshot is the read-only, JSON-serializable view of a composed
// threat handed to rendering, UI and narrative layers.
type ThreatSnapshot struct {
	ID                string                 `json:"id"`
	Tick              uint64                 `json:"tick"`
	Quality           QualityLevel           `json:"quality"`
	Components        []ThreatComponent      `json:"components"`
	EmergentBehaviors []EmergentBehavior     `json:"emergent_behaviors"`
	Interactions      []ComponentInteraction `json:"interactions"`
	Faults            []BehaviorFault        `json:"faults"`
	Performance       PerformanceMetrics     `json:"performance_metrics"`
	Destroyed         bool                   `json:"destroyed,omitempty"`
}

// Component returns the component with id, if present.
func (s *ThreatSnapshot) Component(id string) (ThreatComponent, bool) {
	for _, c := range s.Components {
		if c.ID == id {
			return c, true
		}
	}
	return ThreatComponent{}, false
}
