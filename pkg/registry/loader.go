package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk format for blueprint catalogs.
type CatalogFile struct {
	Version       string                    `yaml:"version" json:"version"`
	Blueprints    []BlueprintDefinition     `yaml:"blueprints" json:"blueprints"`
	Compatibility []CompatibilityDefinition `yaml:"compatibility" json:"compatibility"`
}

// BlueprintDefinition describes one component type in a catalog.
type BlueprintDefinition struct {
	TypeID             string                        `yaml:"type_id" json:"type_id"`
	Domain             string                        `yaml:"domain" json:"domain"`
	EmergencePotential float64                       `yaml:"emergence_potential" json:"emergence_potential"`
	Properties         map[string]PropertyDefinition `yaml:"properties" json:"properties"`
	Behaviors          []string                      `yaml:"behaviors" json:"behaviors"`
	Interactions       []RuleDefinition              `yaml:"interactions" json:"interactions"`
	Traits             []string                      `yaml:"traits" json:"traits"`
	Consumes           []string                      `yaml:"consumes" json:"consumes"`
	Enabled            *bool                         `yaml:"enabled" json:"enabled"`
}

// PropertyDefinition declares one property and its default.
type PropertyDefinition struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Default any      `yaml:"default" json:"default"`
	Min     *float64 `yaml:"min" json:"min"`
	Max     *float64 `yaml:"max" json:"max"`
	Tracked bool     `yaml:"tracked" json:"tracked"`
}

// RuleDefinition declares affinity toward another type.
type RuleDefinition struct {
	Target     string             `yaml:"target" json:"target"`
	Affinity   *float64           `yaml:"affinity" json:"affinity"`
	Conditions []domain.Condition `yaml:"conditions" json:"conditions"`
}

// CompatibilityDefinition declares a domain-pair score.
type CompatibilityDefinition struct {
	Domains     []string `yaml:"domains" json:"domains"`
	Score       float64  `yaml:"score" json:"score"`
	Adversarial bool     `yaml:"adversarial" json:"adversarial"`
}

// Loader reads catalog files into a registry and compatibility table.
type Loader struct {
	logger   *zap.Logger
	registry *Registry
	library  *behavior.Library
	compat   *CompatibilityTable
	opts     []RegisterOption
}

// NewLoader creates a loader. compat may be nil when catalogs carry no
// compatibility entries.
func NewLoader(logger *zap.Logger, reg *Registry, lib *behavior.Library, compat *CompatibilityTable, opts ...RegisterOption) (*Loader, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if lib == nil {
		return nil, fmt.Errorf("behavior library is required")
	}
	return &Loader{logger: logger, registry: reg, library: lib, compat: compat, opts: opts}, nil
}

// LoadFile loads a YAML or JSON catalog.
func (l *Loader) LoadFile(filename string) (int, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return l.LoadBytes(filename, data)
}

// LoadBytes parses data, choosing the format from name's extension, and
// returns the number of blueprints registered.
func (l *Loader) LoadBytes(name string, data []byte) (int, error) {
	var catalog CatalogFile

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			return 0, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &catalog); err != nil {
			return 0, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			if err := json.Unmarshal(data, &catalog); err != nil {
				return 0, fmt.Errorf("failed to parse as YAML or JSON")
			}
		}
	}

	for _, def := range catalog.Compatibility {
		if len(def.Domains) != 2 {
			return 0, fmt.Errorf("compatibility entry needs exactly two domains, got %v", def.Domains)
		}
		if l.compat == nil {
			return 0, fmt.Errorf("catalog %s declares compatibility but no table was supplied", name)
		}
		if err := l.compat.Set(def.Domains[0], def.Domains[1], def.Score, def.Adversarial); err != nil {
			return 0, err
		}
	}

	loaded := 0
	for _, def := range catalog.Blueprints {
		if def.TypeID == "" {
			return loaded, fmt.Errorf("blueprint missing type_id")
		}
		if def.Enabled != nil && !*def.Enabled {
			continue
		}
		bp, err := l.convert(def)
		if err != nil {
			return loaded, fmt.Errorf("failed to convert blueprint %s: %w", def.TypeID, err)
		}
		if err := l.registry.Register(bp, l.opts...); err != nil {
			return loaded, err
		}
		loaded++
	}

	l.logger.Info("Loaded component catalog",
		zap.String("source", name),
		zap.String("version", catalog.Version),
		zap.Int("blueprints", loaded),
		zap.Int("compatibility", len(catalog.Compatibility)),
	)
	return loaded, nil
}

// LoadDirectory loads every .yaml, .yml and .json file in dir, in name order.
func (l *Loader) LoadDirectory(dir string) (int, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return 0, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	total := 0
	for _, file := range files {
		n, err := l.LoadFile(file)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return total, nil
}

func (l *Loader) convert(def BlueprintDefinition) (Blueprint, error) {
	bp := Blueprint{
		TypeID:             def.TypeID,
		Domain:             def.Domain,
		EmergencePotential: def.EmergencePotential,
		Schema:             make(map[string]PropertySpec, len(def.Properties)),
		Defaults:           make(map[string]any, len(def.Properties)),
		Traits:             def.Traits,
		Consumes:           def.Consumes,
	}

	for name, p := range def.Properties {
		spec := PropertySpec{Min: p.Min, Max: p.Max, Tracked: p.Tracked}
		if p.Kind != "" {
			spec.Kind = domain.PropertyKind(p.Kind)
		} else if p.Default != nil {
			v, ok := domain.NormalizeValue(p.Default)
			if !ok {
				return Blueprint{}, fmt.Errorf("property %s: unsupported default %T", name, p.Default)
			}
			spec.Kind, _ = domain.KindOf(v)
		} else {
			spec.Kind = domain.PropertyNumber
		}
		bp.Schema[name] = spec
		if p.Default != nil {
			bp.Defaults[name] = p.Default
		}
	}

	for _, kind := range def.Behaviors {
		f, ok := l.library.Factory(kind)
		if !ok {
			return Blueprint{}, fmt.Errorf("unknown behavior kind %q", kind)
		}
		bp.Behaviors = append(bp.Behaviors, f)
		bp.BehaviorKinds = append(bp.BehaviorKinds, kind)
	}

	for _, r := range def.Interactions {
		affinity := 1.0
		if r.Affinity != nil {
			affinity = *r.Affinity
		}
		bp.Interactions = append(bp.Interactions, InteractionRule{
			Target:     r.Target,
			Affinity:   affinity,
			Conditions: r.Conditions,
		})
	}
	return bp, nil
}
