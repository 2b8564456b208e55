package registry

import (
	"fmt"
	"sort"
)

// Shipped conceptual domains.
const (
	DomainBiological = "biological"
	DomainCyber      = "cyber"
	DomainQuantum    = "quantum"
	DomainChemical   = "chemical"
	DomainSocial     = "social"
	DomainPhysical   = "physical"
)

// DefaultBaseline is the score for domain pairs missing from the table.
// Deliberately above zero so unanticipated pairs stay evaluable.
const DefaultBaseline = 0.5

// Compatibility is the base score for a domain pair.
type Compatibility struct {
	Score       float64 `json:"score" yaml:"score"`
	Adversarial bool    `json:"adversarial" yaml:"adversarial"`
}

type domainPair struct{ a, b string }

func newDomainPair(x, y string) domainPair {
	if y < x {
		x, y = y, x
	}
	return domainPair{x, y}
}

// CompatibilityTable is a symmetric domain-pair score table. Populate it
// before sharing; it is read-only afterwards.
type CompatibilityTable struct {
	baseline float64
	entries  map[domainPair]Compatibility
}

// NewCompatibilityTable creates an empty table with the given baseline.
func NewCompatibilityTable(baseline float64) *CompatibilityTable {
	return &CompatibilityTable{
		baseline: baseline,
		entries:  make(map[domainPair]Compatibility),
	}
}

// Set records the score for a domain pair in both directions.
func (t *CompatibilityTable) Set(a, b string, score float64, adversarial bool) error {
	if a == "" || b == "" {
		return fmt.Errorf("compatibility entry needs two domains")
	}
	if !inUnit(score) {
		return fmt.Errorf("compatibility %s/%s: score %g outside 0..1", a, b, score)
	}
	t.entries[newDomainPair(a, b)] = Compatibility{Score: score, Adversarial: adversarial}
	return nil
}

// Lookup returns the declared entry for a pair.
func (t *CompatibilityTable) Lookup(a, b string) (Compatibility, bool) {
	c, ok := t.entries[newDomainPair(a, b)]
	return c, ok
}

// Score returns the entry for a pair, or the baseline when undeclared.
func (t *CompatibilityTable) Score(a, b string) Compatibility {
	if c, ok := t.Lookup(a, b); ok {
		return c
	}
	return Compatibility{Score: t.baseline}
}

// Baseline returns the score used for undeclared pairs.
func (t *CompatibilityTable) Baseline() float64 { return t.baseline }

// SetBaseline changes the score used for undeclared pairs.
func (t *CompatibilityTable) SetBaseline(v float64) error {
	if !inUnit(v) {
		return fmt.Errorf("baseline %g outside 0..1", v)
	}
	t.baseline = v
	return nil
}

// Domains lists every domain mentioned in the table, sorted.
func (t *CompatibilityTable) Domains() []string {
	seen := make(map[string]struct{})
	for p := range t.entries {
		seen[p.a] = struct{}{}
		seen[p.b] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of declared pairs.
func (t *CompatibilityTable) Len() int { return len(t.entries) }

// DefaultCompatibility returns the built-in cross-domain table.
func DefaultCompatibility() *CompatibilityTable {
	t := NewCompatibilityTable(DefaultBaseline)
	for _, e := range []struct {
		a, b        string
		score       float64
		adversarial bool
	}{
		{DomainBiological, DomainBiological, 0.9, false},
		{DomainCyber, DomainCyber, 0.9, false},
		{DomainQuantum, DomainQuantum, 0.95, false},
		{DomainChemical, DomainChemical, 0.85, false},
		{DomainSocial, DomainSocial, 0.8, false},
		{DomainPhysical, DomainPhysical, 0.8, false},

		{DomainBiological, DomainChemical, 0.85, false},
		{DomainBiological, DomainCyber, 0.6, false},
		{DomainBiological, DomainSocial, 0.7, false},
		{DomainBiological, DomainQuantum, 0.4, true},
		{DomainCyber, DomainQuantum, 0.85, false},
		{DomainCyber, DomainSocial, 0.8, false},
		{DomainCyber, DomainPhysical, 0.45, true},
		{DomainChemical, DomainPhysical, 0.75, false},
		{DomainQuantum, DomainPhysical, 0.35, true},
		{DomainSocial, DomainPhysical, 0.6, false},
	} {
		// entries are static and in range
		_ = t.Set(e.a, e.b, e.score, e.adversarial)
	}
	return t
}
