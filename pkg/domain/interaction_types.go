package domain

import (
	"fmt"
	"strings"
)

// InteractionKind classifies how two components combine.
type InteractionKind string

const (
	InteractionSynergy        InteractionKind = "SYNERGY"
	InteractionConflict       InteractionKind = "CONFLICT"
	InteractionTransformation InteractionKind = "TRANSFORMATION"
	InteractionPropagation    InteractionKind = "PROPAGATION"
)

// Condition is a property threshold that must hold for an interaction to
// be eligible for activation, e.g. "rate >= 0.5".
type Condition struct {
	Field    string  `json:"field" yaml:"field"`
	Operator string  `json:"operator" yaml:"operator"`
	Value    float64 `json:"value" yaml:"value"`
}

// Evaluate compares v against the threshold.
func (c Condition) Evaluate(v float64) bool {
	switch c.Operator {
	case ">=":
		return v >= c.Value
	case ">":
		return v > c.Value
	case "<=":
		return v <= c.Value
	case "<":
		return v < c.Value
	case "==":
		return v == c.Value
	default:
		return false
	}
}

// ValidOperator reports whether op is a supported comparison.
func ValidOperator(op string) bool {
	switch op {
	case ">=", ">", "<=", "<", "==":
		return true
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Field, c.Operator, c.Value)
}

// PairKey identifies an unordered pair of components. A is always the
// lexically smaller id. It encodes as "a|b" in JSON.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewPairKey builds the canonical key for two component ids.
func NewPairKey(x, y string) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// Contains reports whether id is one side of the pair.
func (p PairKey) Contains(id string) bool {
	return p.A == id || p.B == id
}

// Other returns the id on the other side of the pair.
func (p PairKey) Other(id string) string {
	if p.A == id {
		return p.B
	}
	return p.A
}

func (p PairKey) String() string {
	return p.A + "|" + p.B
}

// MarshalText lets PairKey be used as a JSON map key.
func (p PairKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the "a|b" form.
func (p *PairKey) UnmarshalText(text []byte) error {
	a, b, ok := strings.Cut(string(text), "|")
	if !ok || a == "" || b == "" {
		return fmt.Errorf("invalid pair key %q", string(text))
	}
	*p = NewPairKey(a, b)
	return nil
}

// ComponentInteraction is the derived, cacheable score for one pair.
// SourceID is the active side: the consumer for TRANSFORMATION, the
// spreading side for PROPAGATION.
type ComponentInteraction struct {
	Pair               PairKey         `json:"pair"`
	SourceID           string          `json:"source_id"`
	TargetID           string          `json:"target_id"`
	SourceType         string          `json:"source_type"`
	TargetType         string          `json:"target_type"`
	Strength           float64         `json:"strength"`
	Kind               InteractionKind `json:"kind"`
	EmergentPotential  float64         `json:"emergent_potential"`
	RequiredConditions []Condition     `json:"required_conditions,omitempty"`
	ConditionsMet      bool            `json:"conditions_met"`
	EvaluatedTick      uint64          `json:"evaluated_tick"`
}

// EmergentTrigger is reported by a behavior during its update to flag a
// likely interaction. Discovery evaluates flagged pairs first.
type EmergentTrigger struct {
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id,omitempty"`
	TargetType string  `json:"target_type,omitempty"`
	Boost      float64 `json:"boost"`
	Reason     string  `json:"reason,omitempty"`
}

// Matches reports whether the trigger points at component c. An empty
// target matches every sibling.
func (t EmergentTrigger) Matches(c *ThreatComponent) bool {
	if t.TargetID != "" {
		return t.TargetID == c.ID
	}
	if t.TargetType != "" {
		return t.TargetType == c.TypeID
	}
	return true
}
