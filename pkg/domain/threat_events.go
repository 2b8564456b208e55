package domain

// ThreatEventType names an entry in the composer's event stream.
type ThreatEventType string

const (
	EventEmergentBehaviorActivated     ThreatEventType = "emergent_behavior_activated"
	EventEmergentBehaviorDeactivated   ThreatEventType = "emergent_behavior_deactivated"
	EventBehaviorFault                 ThreatEventType = "behavior_fault"
	EventQualityLevelChanged           ThreatEventType = "quality_level_changed"
	EventPerformanceBudgetExceeded     ThreatEventType = "performance_budget_exceeded"
	EventInteractionCacheInconsistency ThreatEventType = "interaction_cache_inconsistency"
)

// QualityChange describes one governor transition.
type QualityChange struct {
	From   QualityLevel `json:"from"`
	To     QualityLevel `json:"to"`
	Reason string       `json:"reason"`
}

// ThreatEvent is published to sinks for logging, narrative hooks and
// telemetry. Exactly one payload field is set, matching Type. Events carry
// tick numbers rather than wall-clock time so replays are comparable.
type ThreatEvent struct {
	Type     ThreatEventType `json:"type"`
	ThreatID string          `json:"threat_id"`
	Tick     uint64          `json:"tick"`

	Emergent      *EmergentBehavior              `json:"emergent,omitempty"`
	Reason        string                         `json:"reason,omitempty"`
	Fault         *BehaviorFault                 `json:"fault,omitempty"`
	Quality       *QualityChange                 `json:"quality,omitempty"`
	Budget        *PerformanceBudgetExceeded     `json:"budget,omitempty"`
	Inconsistency *InteractionCacheInconsistency `json:"inconsistency,omitempty"`
}
