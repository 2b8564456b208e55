package config

import (
	"fmt"
	"time"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/emergence"
	"github.com/yairfalse/threatforge/pkg/intelligence/interaction"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Quality is the starting level of the process-wide profile.
	Quality string `mapstructure:"quality" yaml:"quality"`

	Engine      EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Interaction interaction.Config `mapstructure:"interaction" yaml:"interaction"`
	Emergence   emergence.Config   `mapstructure:"emergence" yaml:"emergence"`
	Governor    GovernorConfig     `mapstructure:"governor" yaml:"governor"`
	Catalog     CatalogConfig      `mapstructure:"catalog" yaml:"catalog"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	NATS        NATSConfig         `mapstructure:"nats" yaml:"nats"`
}

// EngineConfig holds the per-threat work limits.
type EngineConfig struct {
	MaxEmergentBehaviors     int     `mapstructure:"max_emergent_behaviors" yaml:"max_emergent_behaviors"`
	MaxComponentInteractions int     `mapstructure:"max_component_interactions" yaml:"max_component_interactions"`
	TargetTickBudgetMs       float64 `mapstructure:"target_tick_budget_ms" yaml:"target_tick_budget_ms"`
	BehaviorConcurrency      int     `mapstructure:"behavior_concurrency" yaml:"behavior_concurrency"`
}

// GovernorConfig tunes quality hysteresis. Levels overrides entries of the
// built-in level table, keyed by level name.
type GovernorConfig struct {
	UpperRatio   float64                            `mapstructure:"upper_ratio" yaml:"upper_ratio"`
	LowerRatio   float64                            `mapstructure:"lower_ratio" yaml:"lower_ratio"`
	DemoteAfter  int                                `mapstructure:"demote_after" yaml:"demote_after"`
	PromoteAfter int                                `mapstructure:"promote_after" yaml:"promote_after"`
	MaxQuality   string                             `mapstructure:"max_quality" yaml:"max_quality"`
	Levels       map[string]performance.LevelPolicy `mapstructure:"levels" yaml:"levels,omitempty"`
}

// CatalogConfig lists component catalog sources.
type CatalogConfig struct {
	Builtins bool     `mapstructure:"builtins" yaml:"builtins"`
	Paths    []string `mapstructure:"paths" yaml:"paths"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	OTel        bool   `mapstructure:"otel" yaml:"otel"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Quality:  domain.QualityBalanced.String(),
		Engine: EngineConfig{
			MaxEmergentBehaviors:     emergence.DefaultMaxEmergentBehaviors,
			MaxComponentInteractions: 0,
			TargetTickBudgetMs:       float64(performance.DefaultTargetTickBudget) / float64(time.Millisecond),
			BehaviorConcurrency:      DefaultBehaviorConcurrency,
		},
		Interaction: interaction.DefaultConfig(),
		Emergence:   emergence.DefaultConfig(),
		Governor: GovernorConfig{
			UpperRatio:   performance.DefaultUpperRatio,
			LowerRatio:   performance.DefaultLowerRatio,
			DemoteAfter:  performance.DefaultDemoteAfter,
			PromoteAfter: performance.DefaultPromoteAfter,
			MaxQuality:   domain.QualityUltra.String(),
		},
		Catalog: CatalogConfig{
			Builtins: true,
		},
		Telemetry: TelemetryConfig{
			OTel: true,
		},
		NATS: DefaultNATSConfig(),
	}
}

// QualityLevel parses the configured starting level.
func (c *Config) QualityLevel() (domain.QualityLevel, error) {
	return domain.ParseQualityLevel(c.Quality)
}

// TickBudget returns the target tick budget as a duration.
func (c *Config) TickBudget() time.Duration {
	return time.Duration(c.Engine.TargetTickBudgetMs * float64(time.Millisecond))
}

// EmergenceConfig returns the catalog tunables with the engine-level
// emergent behavior cap applied.
func (c *Config) EmergenceConfig() emergence.Config {
	out := c.Emergence
	if c.Engine.MaxEmergentBehaviors > 0 {
		out.MaxEmergentBehaviors = c.Engine.MaxEmergentBehaviors
	}
	return out
}

// PerformanceConfig converts the governor section.
func (c *Config) PerformanceConfig() (performance.Config, error) {
	maxQuality, err := domain.ParseQualityLevel(c.Governor.MaxQuality)
	if err != nil {
		return performance.Config{}, fmt.Errorf("governor.max_quality: %w", err)
	}

	out := performance.Config{
		TargetTickBudget:         c.TickBudget(),
		UpperRatio:               c.Governor.UpperRatio,
		LowerRatio:               c.Governor.LowerRatio,
		DemoteAfter:              c.Governor.DemoteAfter,
		PromoteAfter:             c.Governor.PromoteAfter,
		MaxComponentInteractions: c.Engine.MaxComponentInteractions,
		MaxQuality:               maxQuality,
	}
	if len(c.Governor.Levels) > 0 {
		out.Policies = make(map[domain.QualityLevel]performance.LevelPolicy, len(c.Governor.Levels))
		for name, policy := range c.Governor.Levels {
			level, err := domain.ParseQualityLevel(name)
			if err != nil {
				return performance.Config{}, fmt.Errorf("governor.levels: %w", err)
			}
			out.Policies[level] = policy
		}
	}
	return out, nil
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
