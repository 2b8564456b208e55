package domain

import (
	"fmt"
	"math"
	"sort"
)

// PropertyKind is the declared type of a component property.
type PropertyKind string

const (
	PropertyNumber PropertyKind = "number"
	PropertyString PropertyKind = "string"
	PropertyBool   PropertyKind = "bool"
)

// KindOf reports the property kind of a normalized value.
func KindOf(v any) (PropertyKind, bool) {
	switch v.(type) {
	case float64:
		return PropertyNumber, true
	case string:
		return PropertyString, true
	case bool:
		return PropertyBool, true
	default:
		return "", false
	}
}

// NormalizeValue converts the numeric types produced by YAML, JSON and Go
// literals to float64. Other supported kinds pass through unchanged.
// NaN and infinities are rejected.
func NormalizeValue(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, Finite(n)
	case float32:
		return float64(n), Finite(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string, bool:
		return n, true
	default:
		return nil, false
	}
}

// Finite reports whether f is neither NaN nor an infinity.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Impact is the declared cost weight of running a behavior once.
type Impact struct {
	CPUWeight float64 `json:"cpu_weight" yaml:"cpu_weight"`
	MemWeight float64 `json:"mem_weight" yaml:"mem_weight"`
}

// ThreatComponent is a live instance of a registered blueprint.
//
// Properties belong to the component's own behaviors. Modifiers is the
// overlay written by emergent effects; Value reads through both.
type ThreatComponent struct {
	ID                 string             `json:"id"`
	TypeID             string             `json:"type_id"`
	Domain             string             `json:"domain"`
	Properties         map[string]any     `json:"properties"`
	Modifiers          map[string]float64 `json:"modifiers,omitempty"`
	EmergencePotential float64            `json:"emergence_potential"`
	QualityLevel       QualityLevel       `json:"quality_level"`
}

// Number returns the base numeric value of a property.
func (c *ThreatComponent) Number(key string) (float64, bool) {
	v, ok := c.Properties[key].(float64)
	return v, ok
}

// Value returns the effective numeric value: base plus emergent modifier.
// A modifier on a property with no base value is still reported.
func (c *ThreatComponent) Value(key string) (float64, bool) {
	base, ok := c.Number(key)
	mod, hasMod := c.Modifiers[key]
	if !ok && !hasMod {
		return 0, false
	}
	return base + mod, true
}

// SetNumber writes a base numeric property.
func (c *ThreatComponent) SetNumber(key string, v float64) {
	if c.Properties == nil {
		c.Properties = make(map[string]any)
	}
	c.Properties[key] = v
}

// AddModifier shifts the effective value of key by delta.
func (c *ThreatComponent) AddModifier(key string, delta float64) {
	if c.Modifiers == nil {
		c.Modifiers = make(map[string]float64)
	}
	next := c.Modifiers[key] + delta
	if math.Abs(next) < 1e-12 {
		delete(c.Modifiers, key)
		return
	}
	c.Modifiers[key] = next
}

// NumericKeys returns the sorted names of numeric base properties.
func (c *ThreatComponent) NumericKeys() []string {
	keys := make([]string, 0, len(c.Properties))
	for k, v := range c.Properties {
		if _, ok := v.(float64); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy safe to hand to readers.
func (c *ThreatComponent) Clone() ThreatComponent {
	out := *c
	out.Properties = make(map[string]any, len(c.Properties))
	for k, v := range c.Properties {
		out.Properties[k] = v
	}
	if len(c.Modifiers) > 0 {
		out.Modifiers = make(map[string]float64, len(c.Modifiers))
		for k, v := range c.Modifiers {
			out.Modifiers[k] = v
		}
	} else {
		out.Modifiers = nil
	}
	return out
}

func (c *ThreatComponent) String() string {
	return fmt.Sprintf("%s(%s)", c.TypeID, c.ID)
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
