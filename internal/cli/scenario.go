package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yairfalse/threatforge/pkg/composer"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/registry"
	"gopkg.in/yaml.v3"
)

// Scenario describes the threats a run composes and the environment their
// behaviors can query.
type Scenario struct {
	Name        string             `json:"name" yaml:"name"`
	Environment map[string]float64 `json:"environment,omitempty" yaml:"environment,omitempty"`
	Threats     []ThreatTemplate   `json:"threats" yaml:"threats"`
}

// ThreatTemplate composes Count threats from the same component list.
type ThreatTemplate struct {
	Name       string                   `json:"name" yaml:"name"`
	Count      int                      `json:"count,omitempty" yaml:"count,omitempty"`
	Quality    string                   `json:"quality,omitempty" yaml:"quality,omitempty"`
	Components []composer.ComponentSpec `json:"components" yaml:"components"`
}

// DefaultScenario is used when no scenario file is given: one threat that
// spreads and infects.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name: "default",
		Environment: map[string]float64{
			"detection_pressure": 0.2,
		},
		Threats: []ThreatTemplate{{
			Name:  "worm",
			Count: 1,
			Components: []composer.ComponentSpec{
				{Type: registry.TypePropagation},
				{Type: registry.TypeInfection},
			},
		}},
	}
}

// LoadScenario reads a YAML or JSON scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	var s Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &s)
	default:
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the scenario shape. Component types are checked later
// against the registry.
func (s *Scenario) Validate() error {
	if len(s.Threats) == 0 {
		return fmt.Errorf("scenario has no threats")
	}
	for i, t := range s.Threats {
		if len(t.Components) == 0 {
			return fmt.Errorf("threat %d (%s) has no components", i, t.Name)
		}
		if t.Count < 0 {
			return fmt.Errorf("threat %d (%s) has negative count", i, t.Name)
		}
		if t.Quality != "" {
			if _, err := domain.ParseQualityLevel(t.Quality); err != nil {
				return fmt.Errorf("threat %d (%s): %w", i, t.Name, err)
			}
		}
	}
	return nil
}

// Lookup answers environment queries for behaviors.
func (s *Scenario) Lookup(query string) (float64, bool) {
	v, ok := s.Environment[query]
	return v, ok
}

// Expand returns one template per threat to compose, scaling every count by
// multiplier. A zero count means one.
func (s *Scenario) Expand(multiplier int) []ThreatTemplate {
	if multiplier < 1 {
		multiplier = 1
	}
	var out []ThreatTemplate
	for _, t := range s.Threats {
		n := t.Count
		if n == 0 {
			n = 1
		}
		for i := 0; i < n*multiplier; i++ {
			out = append(out, t)
		}
	}
	return out
}
