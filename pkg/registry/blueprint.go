package registry

import (
	"fmt"
	"sort"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
)

// PropertySpec declares the kind and allowed range of one property.
// Min and Max only apply to numbers; nil means unbounded.
type PropertySpec struct {
	Kind    domain.PropertyKind
	Min     *float64
	Max     *float64
	Tracked bool // participates in interaction fingerprints
}

// Check validates a normalized value against the spec.
func (s PropertySpec) Check(v any) error {
	kind, ok := domain.KindOf(v)
	if !ok {
		return fmt.Errorf("unsupported value type %T", v)
	}
	if kind != s.Kind {
		return fmt.Errorf("expected %s, got %s", s.Kind, kind)
	}
	if kind != domain.PropertyNumber {
		return nil
	}
	n := v.(float64)
	if !domain.Finite(n) {
		return fmt.Errorf("%g is not a finite number", n)
	}
	if s.Min != nil && n < *s.Min {
		return fmt.Errorf("%g below minimum %g", n, *s.Min)
	}
	if s.Max != nil && n > *s.Max {
		return fmt.Errorf("%g above maximum %g", n, *s.Max)
	}
	return nil
}

// inUnit reports whether v lies in 0..1. NaN is outside.
func inUnit(v float64) bool {
	return domain.Finite(v) && v >= 0 && v <= 1
}

// Range is a convenience for building bounded number specs.
func Range(min, max float64) PropertySpec {
	return PropertySpec{Kind: domain.PropertyNumber, Min: &min, Max: &max}
}

// InteractionRule is a blueprint's declared affinity toward another type.
type InteractionRule struct {
	Target     string // type id
	Affinity   float64
	Conditions []domain.Condition
}

// Blueprint is the immutable template a component type is instantiated from.
type Blueprint struct {
	TypeID             string
	Domain             string
	Schema             map[string]PropertySpec
	Defaults           map[string]any
	EmergencePotential float64

	Behaviors     []behavior.Factory
	BehaviorKinds []string // informational, set by catalog loading

	Interactions []InteractionRule
	Traits       []string
	Consumes     []string // traits this type can absorb from others
}

// RuleFor returns the declared rule toward targetType, if any.
func (b *Blueprint) RuleFor(targetType string) (InteractionRule, bool) {
	for _, r := range b.Interactions {
		if r.Target == targetType {
			return r, true
		}
	}
	return InteractionRule{}, false
}

// HasTrait reports whether the blueprint carries trait.
func (b *Blueprint) HasTrait(trait string) bool {
	for _, t := range b.Traits {
		if t == trait {
			return true
		}
	}
	return false
}

// ConsumesFrom reports the first trait of other that b can consume.
func (b *Blueprint) ConsumesFrom(other *Blueprint) (string, bool) {
	for _, c := range b.Consumes {
		if other.HasTrait(c) {
			return c, true
		}
	}
	return "", false
}

// TrackedKeys returns the sorted numeric properties that feed interaction
// fingerprints. With nothing marked tracked, every number is tracked.
func (b *Blueprint) TrackedKeys() []string {
	var tracked, numbers []string
	for name, spec := range b.Schema {
		if spec.Kind != domain.PropertyNumber {
			continue
		}
		numbers = append(numbers, name)
		if spec.Tracked {
			tracked = append(tracked, name)
		}
	}
	if len(tracked) == 0 {
		tracked = numbers
	}
	sort.Strings(tracked)
	return tracked
}

func (b *Blueprint) clone() *Blueprint {
	out := *b
	out.Schema = make(map[string]PropertySpec, len(b.Schema))
	for k, v := range b.Schema {
		if v.Min != nil {
			m := *v.Min
			v.Min = &m
		}
		if v.Max != nil {
			m := *v.Max
			v.Max = &m
		}
		out.Schema[k] = v
	}
	out.Defaults = make(map[string]any, len(b.Defaults))
	for k, v := range b.Defaults {
		out.Defaults[k] = v
	}
	out.Behaviors = append([]behavior.Factory(nil), b.Behaviors...)
	out.BehaviorKinds = append([]string(nil), b.BehaviorKinds...)
	out.Interactions = make([]InteractionRule, len(b.Interactions))
	for i, r := range b.Interactions {
		r.Conditions = append([]domain.Condition(nil), r.Conditions...)
		out.Interactions[i] = r
	}
	out.Traits = append([]string(nil), b.Traits...)
	out.Consumes = append([]string(nil), b.Consumes...)
	return &out
}
