package registry

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"go.uber.org/zap/zaptest"
)

const yamlCatalog = `
version: "1.0"
compatibility:
  - domains: [chemical, quantum]
    score: 0.3
    adversarial: true
blueprints:
  - type_id: TOXIN
    domain: chemical
    emergence_potential: 0.7
    behaviors: [catalysis]
    traits: [reagent]
    properties:
      catalystLevel:
        default: 0.4
        min: 0
        max: 1
        tracked: true
      volatile:
        default: true
    interactions:
      - target: INFECTION
        affinity: 1.3
        conditions:
          - field: catalystLevel
            operator: ">="
            value: 0.2
  - type_id: DISABLED
    domain: chemical
    enabled: false
`

func newTestLoader(t *testing.T) (*Loader, *Registry, *CompatibilityTable) {
	t.Helper()
	reg := newTestRegistry(t)
	compat := NewCompatibilityTable(DefaultBaseline)
	l, err := NewLoader(zaptest.NewLogger(t), reg, behavior.DefaultLibrary(), compat)
	require.NoError(t, err)
	return l, reg, compat
}

func TestLoadBytesYAML(t *testing.T) {
	l, reg, compat := newTestLoader(t)

	n, err := l.LoadBytes("catalog.yaml", []byte(yamlCatalog))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"TOXIN"}, reg.TypeIDs())

	bp, ok := reg.Blueprint("TOXIN")
	require.True(t, ok)
	assert.Equal(t, DomainChemical, bp.Domain)
	assert.Equal(t, 0.7, bp.EmergencePotential)
	assert.Equal(t, []string{behavior.KindCatalysis}, bp.BehaviorKinds)
	assert.Len(t, bp.Behaviors, 1)
	assert.Equal(t, domain.PropertyBool, bp.Schema["volatile"].Kind)
	assert.Equal(t, []string{"catalystLevel"}, bp.TrackedKeys())

	rule, ok := bp.RuleFor(TypeInfection)
	require.True(t, ok)
	assert.Equal(t, 1.3, rule.Affinity)
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, ">=", rule.Conditions[0].Operator)

	c, ok := compat.Lookup(DomainQuantum, DomainChemical)
	require.True(t, ok)
	assert.Equal(t, 0.3, c.Score)
	assert.True(t, c.Adversarial)
}

func TestLoadBytesJSON(t *testing.T) {
	l, reg, _ := newTestLoader(t)

	data := `{"version":"1","blueprints":[{"type_id":"NODE","domain":"cyber","emergence_potential":0.5,
		"behaviors":["propagation"],"properties":{"rate":{"kind":"number","default":0.2},"reach":{"default":0}},
		"interactions":[{"target":"NODE"}]}]}`
	n, err := l.LoadBytes("catalog.json", []byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bp, _ := reg.Blueprint("NODE")
	rule, ok := bp.RuleFor("NODE")
	require.True(t, ok)
	assert.Equal(t, 1.0, rule.Affinity, "affinity defaults to neutral")

	c, err := reg.Instantiate("NODE", map[string]any{"reach": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Properties["reach"])
}

func TestLoadBytesErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "bad yaml", file: "x.yaml", data: "blueprints: [::"},
		{name: "missing type id", file: "x.yaml", data: "blueprints:\n  - domain: cyber\n"},
		{name: "unknown behavior", file: "x.yaml", data: "blueprints:\n  - type_id: A\n    domain: cyber\n    behaviors: [teleport]\n"},
		{name: "bad compatibility", file: "x.yaml", data: "compatibility:\n  - domains: [cyber]\n    score: 0.5\n"},
		{name: "NaN default", file: "x.yaml", data: "blueprints:\n  - type_id: A\n    domain: cyber\n    properties:\n      rate:\n        default: .nan\n"},
		{name: "NaN typed default", file: "x.yaml", data: "blueprints:\n  - type_id: A\n    domain: cyber\n    properties:\n      rate:\n        kind: number\n        default: .nan\n"},
		{name: "NaN potential", file: "x.yaml", data: "blueprints:\n  - type_id: A\n    domain: cyber\n    emergence_potential: .nan\n"},
		{name: "NaN compatibility score", file: "x.yaml", data: "compatibility:\n  - domains: [cyber, social]\n    score: .nan\n"},
		{name: "infinite compatibility score", file: "x.yaml", data: "compatibility:\n  - domains: [cyber, social]\n    score: .inf\n"},
		{name: "default out of range", file: "x.json", data: `{"blueprints":[{"type_id":"A","domain":"cyber","properties":{"rate":{"default":3,"max":1}}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newTestLoader(t)
			_, err := l.LoadBytes(tt.file, []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`{"blueprints":[{"type_id":"NODE","domain":"cyber","behaviors":["stealth"]}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	l, reg, _ := newTestLoader(t)
	n, err := l.LoadDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"NODE", "TOXIN"}, reg.TypeIDs())
}

func TestNewLoaderValidation(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := NewLoader(nil, reg, behavior.DefaultLibrary(), nil)
	assert.Error(t, err)
	_, err = NewLoader(zaptest.NewLogger(t), nil, behavior.DefaultLibrary(), nil)
	assert.Error(t, err)
	_, err = NewLoader(zaptest.NewLogger(t), reg, nil, nil)
	assert.Error(t, err)
}

func TestCompatibilityTable(t *testing.T) {
	table := DefaultCompatibility()

	for _, a := range table.Domains() {
		for _, b := range table.Domains() {
			assert.Equal(t, table.Score(a, b), table.Score(b, a), "%s/%s", a, b)
		}
	}

	c := table.Score(DomainBiological, DomainQuantum)
	assert.True(t, c.Adversarial)

	missing := table.Score(DomainChemical, DomainCyber)
	assert.Equal(t, DefaultBaseline, missing.Score)
	assert.False(t, missing.Adversarial)

	require.NoError(t, table.SetBaseline(0.2))
	assert.Equal(t, 0.2, table.Score(DomainChemical, DomainCyber).Score)
	assert.Error(t, table.SetBaseline(1.2))
	assert.Error(t, table.Set("a", "b", -0.1, false))
	assert.Error(t, table.Set("", "b", 0.5, false))
	assert.Error(t, table.Set("a", "b", math.NaN(), false))
	assert.Error(t, table.SetBaseline(math.NaN()))
	assert.Len(t, table.Domains(), 6)
}
