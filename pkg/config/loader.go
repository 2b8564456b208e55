package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration in priority order: defaults, then the file at
// path (YAML, JSON or TOML by extension; optional), then THREATFORGE_*
// environment variables. The result is validated.
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigFile(path).Load()
}

// Loader builds a Config from layered sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets the file to read. Empty means none.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper exposes the underlying instance so a CLI can bind flags to keys
// such as "engine.max_component_interactions" before Load.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load assembles and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	v := l.v
	setDefaults(v, Default())

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configFile != "" {
		if _, err := os.Stat(l.configFile); errors.Is(err, os.ErrNotExist) {
			return nil, NewConfigFileError("not_found", l.configFile,
				"specified config file does not exist",
				"check the path or run 'threatforge config' to print a starting file")
		}
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewConfigFileError("parse_error", l.configFile,
				fmt.Sprintf("failed to read config: %v", err),
				"check the file syntax; supported formats are yaml, json and toml").WithCause(err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, ConfigError{
			Type:       "decode_error",
			File:       l.configFile,
			Message:    fmt.Sprintf("failed to decode config: %v", err),
			Suggestion: "check value types against 'threatforge config'",
			Cause:      err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("quality", d.Quality)

	v.SetDefault("engine.max_emergent_behaviors", d.Engine.MaxEmergentBehaviors)
	v.SetDefault("engine.max_component_interactions", d.Engine.MaxComponentInteractions)
	v.SetDefault("engine.target_tick_budget_ms", d.Engine.TargetTickBudgetMs)
	v.SetDefault("engine.behavior_concurrency", d.Engine.BehaviorConcurrency)

	v.SetDefault("interaction.synergy_threshold", d.Interaction.SynergyThreshold)
	v.SetDefault("interaction.cache_tolerance", d.Interaction.CacheTolerance)
	v.SetDefault("interaction.cache_size", d.Interaction.CacheSize)

	v.SetDefault("emergence.activation_threshold", d.Emergence.ActivationThreshold)
	v.SetDefault("emergence.max_emergent_behaviors", d.Emergence.MaxEmergentBehaviors)
	v.SetDefault("emergence.cooldown_ticks", d.Emergence.CooldownTicks)
	v.SetDefault("emergence.decay_ticks", d.Emergence.DecayTicks)
	v.SetDefault("emergence.effect_scale", d.Emergence.EffectScale)
	v.SetDefault("emergence.effect_jitter", d.Emergence.EffectJitter)
	v.SetDefault("emergence.history_size", d.Emergence.HistorySize)
	v.SetDefault("emergence.bloom_capacity", d.Emergence.BloomCapacity)
	v.SetDefault("emergence.bloom_false_positive", d.Emergence.BloomFalsePositive)

	v.SetDefault("governor.upper_ratio", d.Governor.UpperRatio)
	v.SetDefault("governor.lower_ratio", d.Governor.LowerRatio)
	v.SetDefault("governor.demote_after", d.Governor.DemoteAfter)
	v.SetDefault("governor.promote_after", d.Governor.PromoteAfter)
	v.SetDefault("governor.max_quality", d.Governor.MaxQuality)

	v.SetDefault("catalog.builtins", d.Catalog.Builtins)
	v.SetDefault("catalog.paths", d.Catalog.Paths)

	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
	v.SetDefault("telemetry.otel", d.Telemetry.OTel)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.name", d.NATS.Name)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.connection_timeout", d.NATS.ConnectionTimeout)
}
