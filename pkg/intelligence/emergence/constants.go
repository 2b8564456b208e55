package emergence

// Catalog defaults. The activation threshold is a starting value for the
// multiplicative model, not a physical constant.
const (
	DefaultActivationThreshold  = 0.7
	DefaultMaxEmergentBehaviors = 16
	DefaultCooldownTicks        = 30
	DefaultDecayTicks           = 300
	DefaultEffectScale          = 0.1
	DefaultHistorySize          = 256

	DefaultBloomCapacity      = 10000
	DefaultBloomFalsePositive = 0.01
)

// Decay duration multipliers by interaction kind. Synergy uses 1.
const (
	ConflictDecayScale       = 0.5
	TransformationDecayScale = 2.0
	PropagationDecayScale    = 1.5
)
