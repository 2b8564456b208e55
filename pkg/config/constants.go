package config

// EnvPrefix prefixes every environment override, e.g.
// THREATFORGE_ENGINE_TARGET_TICK_BUDGET_MS.
const EnvPrefix = "THREATFORGE"

const (
	DefaultBehaviorConcurrency = 4
	DefaultNATSURL             = "nats://localhost:4222"
)
