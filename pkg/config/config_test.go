package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	level, err := cfg.QualityLevel()
	require.NoError(t, err)
	assert.Equal(t, domain.QualityBalanced, level)
	assert.Equal(t, performance.DefaultTargetTickBudget, cfg.TickBudget())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
	assert.Equal(t, Default().Interaction, cfg.Interaction)
	assert.Equal(t, time.Second, cfg.NATS.ReconnectWait)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "threatforge.yaml", `
quality: high
engine:
  max_emergent_behaviors: 4
  max_component_interactions: 20
  target_tick_budget_ms: 8
emergence:
  activation_threshold: 0.5
governor:
  demote_after: 5
  levels:
    low:
      max_interactions: 10
      cpu_ceiling: 1.5
      discovery_every: 8
catalog:
  builtins: false
  paths: [catalogs/extra.yaml]
nats:
  enabled: true
  reconnect_wait: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "high", cfg.Quality)
	assert.Equal(t, 4, cfg.Engine.MaxEmergentBehaviors)
	assert.Equal(t, 8*time.Millisecond, cfg.TickBudget())
	assert.Equal(t, 0.5, cfg.Emergence.ActivationThreshold)
	assert.Equal(t, 4, cfg.EmergenceConfig().MaxEmergentBehaviors)
	assert.False(t, cfg.Catalog.Builtins)
	assert.Equal(t, []string{"catalogs/extra.yaml"}, cfg.Catalog.Paths)
	assert.Equal(t, 250*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, Default().Interaction.CacheSize, cfg.Interaction.CacheSize, "unset keys keep defaults")

	perf, err := cfg.PerformanceConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, perf.DemoteAfter)
	assert.Equal(t, 20, perf.MaxComponentInteractions)
	assert.Equal(t, domain.QualityUltra, perf.MaxQuality)
	assert.Equal(t, performance.LevelPolicy{MaxInteractions: 10, CPUCeiling: 1.5, DiscoveryEvery: 8}, perf.Policies[domain.QualityLow])

	_, err = performance.NewGovernor(perf, domain.QualityHigh)
	assert.NoError(t, err)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"quality": "minimal", "interaction": {"cache_tolerance": 0.1}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", cfg.Quality)
	assert.Equal(t, 0.1, cfg.Interaction.CacheTolerance)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREATFORGE_QUALITY", "low")
	t.Setenv("THREATFORGE_ENGINE_MAX_COMPONENT_INTERACTIONS", "12")
	t.Setenv("THREATFORGE_EMERGENCE_COOLDOWN_TICKS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "low", cfg.Quality)
	assert.Equal(t, 12, cfg.Engine.MaxComponentInteractions)
	assert.Equal(t, uint64(7), cfg.Emergence.CooldownTicks)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "not_found", cfgErr.Type)

	_, err = Load(writeFile(t, "broken.yaml", "engine: [unclosed"))
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "parse_error", cfgErr.Type)
	assert.NotNil(t, errors.Unwrap(cfgErr))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Quality = "extreme"
	cfg.Engine.BehaviorConcurrency = 0
	cfg.Interaction.SynergyThreshold = 1.5
	cfg.Emergence.EffectJitter = 2
	cfg.Governor.LowerRatio = 3
	cfg.Governor.Levels = map[string]performance.LevelPolicy{"turbo": {DiscoveryEvery: 1}}
	cfg.NATS.Enabled = true
	cfg.NATS.URL = ""

	err := cfg.Validate()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := verrs.Fields()
	for _, want := range []string{
		"log_level", "quality", "engine.behavior_concurrency",
		"interaction.synergy_threshold", "emergence.effect_jitter",
		"governor.lower_ratio", "governor.levels.turbo", "nats.url",
	} {
		assert.Contains(t, fields, want)
	}
	assert.Len(t, verrs.GetFixSuggestions(), len(verrs.Errors))
	assert.Contains(t, err.Error(), "multiple validation errors")
}

func TestInvalidFileValuesFailValidation(t *testing.T) {
	path := writeFile(t, "bad.yaml", "governor:\n  levels:\n    low:\n      discovery_every: 0\n")
	_, err := Load(path)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"governor.levels.low.discovery_every"}, verrs.Fields())
}

func TestYAMLRendersLoadableConfig(t *testing.T) {
	cfg := Default()
	cfg.Quality = "ultra"
	cfg.NATS.ReconnectWait = 3 * time.Second

	data, err := cfg.YAML()
	require.NoError(t, err)

	loaded, err := Load(writeFile(t, "rendered.yaml", string(data)))
	require.NoError(t, err)
	assert.Equal(t, "ultra", loaded.Quality)
	assert.Equal(t, cfg.Engine, loaded.Engine)
	assert.Equal(t, cfg.Emergence, loaded.Emergence)
	assert.Equal(t, 3*time.Second, loaded.NATS.ReconnectWait)
}

func TestNATSOptions(t *testing.T) {
	opts := Default().NATS.Options()
	assert.Equal(t, DefaultNATSURL, opts.URL)
	assert.Equal(t, 5*time.Second, opts.ConnectionTimeout)
}
