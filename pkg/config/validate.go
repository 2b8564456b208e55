package config

import (
	"strings"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap/zapcore"
)

// Validate checks every section and returns ValidationErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs []ValidationError

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, NewValidationError("log_level", err.Error(),
			"use one of debug, info, warn, error").WithValue(c.LogLevel))
	}
	if _, err := domain.ParseQualityLevel(c.Quality); err != nil {
		errs = append(errs, NewValidationError("quality", err.Error(),
			"use one of "+qualityNames()).WithValue(c.Quality))
	}

	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateInteraction()...)
	errs = append(errs, c.validateEmergence()...)
	errs = append(errs, c.validateGovernor()...)
	errs = append(errs, c.NATS.validate()...)

	if len(errs) > 0 {
		return ValidationErrors{Errors: errs}
	}
	return nil
}

func (c *Config) validateEngine() []ValidationError {
	var errs []ValidationError
	e := c.Engine
	if e.MaxEmergentBehaviors < 1 {
		errs = append(errs, NewValidationError("engine.max_emergent_behaviors",
			"must be at least 1", "the default is 16").WithValue(e.MaxEmergentBehaviors))
	}
	if e.MaxComponentInteractions < 0 {
		errs = append(errs, NewValidationError("engine.max_component_interactions",
			"must be non-negative", "use 0 to let the quality level decide").WithValue(e.MaxComponentInteractions))
	}
	if e.TargetTickBudgetMs < 0 {
		errs = append(errs, NewValidationError("engine.target_tick_budget_ms",
			"must be non-negative", "use 0 to disable quality governance").WithValue(e.TargetTickBudgetMs))
	}
	if e.BehaviorConcurrency < 1 {
		errs = append(errs, NewValidationError("engine.behavior_concurrency",
			"must be at least 1", "use 1 to run behaviors sequentially").WithValue(e.BehaviorConcurrency))
	}
	return errs
}

func (c *Config) validateInteraction() []ValidationError {
	var errs []ValidationError
	ix := c.Interaction
	if ix.SynergyThreshold <= 0 || ix.SynergyThreshold > 1 {
		errs = append(errs, NewValidationError("interaction.synergy_threshold",
			"must be in (0, 1]", "the default is 0.8").WithValue(ix.SynergyThreshold))
	}
	if ix.CacheTolerance < 0 {
		errs = append(errs, NewValidationError("interaction.cache_tolerance",
			"must be non-negative", "use 0 to key the cache on exact values").WithValue(ix.CacheTolerance))
	}
	if ix.CacheSize < 1 {
		errs = append(errs, NewValidationError("interaction.cache_size",
			"must be at least 1", "the default is 4096").WithValue(ix.CacheSize))
	}
	return errs
}

func (c *Config) validateEmergence() []ValidationError {
	var errs []ValidationError
	em := c.Emergence
	if em.ActivationThreshold < 0 || em.ActivationThreshold > 1 {
		errs = append(errs, NewValidationError("emergence.activation_threshold",
			"must be in [0, 1]", "activation compares strength * potential * potential, all in 0..1").WithValue(em.ActivationThreshold))
	}
	if em.DecayTicks == 0 {
		errs = append(errs, NewValidationError("emergence.decay_ticks",
			"must be at least 1", "the default is 300").WithValue(em.DecayTicks))
	}
	if em.EffectScale < 0 {
		errs = append(errs, NewValidationError("emergence.effect_scale",
			"must be non-negative", "the default is 0.1").WithValue(em.EffectScale))
	}
	if em.EffectJitter < 0 || em.EffectJitter >= 1 {
		errs = append(errs, NewValidationError("emergence.effect_jitter",
			"must be in [0, 1)", "use 0 to disable jitter").WithValue(em.EffectJitter))
	}
	if em.HistorySize < 1 {
		errs = append(errs, NewValidationError("emergence.history_size",
			"must be at least 1", "the default is 256").WithValue(em.HistorySize))
	}
	if em.BloomFalsePositive <= 0 || em.BloomFalsePositive >= 1 {
		errs = append(errs, NewValidationError("emergence.bloom_false_positive",
			"must be in (0, 1)", "the default is 0.01").WithValue(em.BloomFalsePositive))
	}
	return errs
}

func (c *Config) validateGovernor() []ValidationError {
	var errs []ValidationError
	g := c.Governor
	if g.LowerRatio < 0 || g.UpperRatio <= 0 || g.LowerRatio > g.UpperRatio {
		errs = append(errs, NewValidationError("governor.lower_ratio",
			"ratios must satisfy 0 <= lower_ratio <= upper_ratio and upper_ratio > 0",
			"the defaults are lower 0.5 and upper 1.0"))
	}
	if g.DemoteAfter < 1 {
		errs = append(errs, NewValidationError("governor.demote_after",
			"must be at least 1", "the default is 3").WithValue(g.DemoteAfter))
	}
	if g.PromoteAfter < 1 {
		errs = append(errs, NewValidationError("governor.promote_after",
			"must be at least 1", "the default is 60").WithValue(g.PromoteAfter))
	}
	if _, err := domain.ParseQualityLevel(g.MaxQuality); err != nil {
		errs = append(errs, NewValidationError("governor.max_quality", err.Error(),
			"use one of "+qualityNames()).WithValue(g.MaxQuality))
	}
	for name, policy := range g.Levels {
		field := "governor.levels." + name
		if _, err := domain.ParseQualityLevel(name); err != nil {
			errs = append(errs, NewValidationError(field, err.Error(),
				"level keys must be one of "+qualityNames()))
			continue
		}
		if policy.DiscoveryEvery < 1 {
			errs = append(errs, NewValidationError(field+".discovery_every",
				"must be at least 1", "use 1 to discover every tick").WithValue(policy.DiscoveryEvery))
		}
		if policy.MaxInteractions < 0 {
			errs = append(errs, NewValidationError(field+".max_interactions",
				"must be non-negative", "use 0 for no limit").WithValue(policy.MaxInteractions))
		}
	}
	return errs
}

func qualityNames() string {
	names := make([]string, 0, len(domain.QualityLevels()))
	for _, q := range domain.QualityLevels() {
		names = append(names, q.String())
	}
	return strings.Join(names, ", ")
}
