package domain

// EffectDescriptor is one property change produced by an emergent behavior.
type EffectDescriptor struct {
	ComponentID string  `json:"component_id"`
	Property    string  `json:"property"`
	Delta       float64 `json:"delta"`
}

// DecayPolicy controls how long an emergent behavior stays active and
// whether its effects are undone on removal.
type DecayPolicy struct {
	DurationTicks uint64 `json:"duration_ticks"`
	Reversible    bool   `json:"reversible"`
}

// EmergentBehavior is an activated effect arising from one interaction.
type EmergentBehavior struct {
	ID             string             `json:"id"`
	Origin         PairKey            `json:"origin"`
	Kind           InteractionKind    `json:"kind"`
	ActivationTick uint64             `json:"activation_tick"`
	Score          float64            `json:"score"`
	Effects        []EffectDescriptor `json:"effects"`
	Decay          DecayPolicy        `json:"decay"`
	Novel          bool               `json:"novel"`
}

// ExpiresAt is the first tick at which the behavior is no longer active.
func (e *EmergentBehavior) ExpiresAt() uint64 {
	return e.ActivationTick + e.Decay.DurationTicks
}

// Expired reports whether the decay window has elapsed at tick.
func (e *EmergentBehavior) Expired(tick uint64) bool {
	return tick >= e.ExpiresAt()
}

// Clone returns a copy with its own effect slice.
func (e *EmergentBehavior) Clone() EmergentBehavior {
	out := *e
	out.Effects = append([]EffectDescriptor(nil), e.Effects...)
	return out
}
