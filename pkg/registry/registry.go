package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
)

// PotentialOverrideKey is the override key that sets a component's
// emergence potential instead of a property.
const PotentialOverrideKey = "emergencePotential"

// Registry holds component blueprints. Construct one per simulation and
// pass it to the composer; it is safe for concurrent reads.
type Registry struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	blueprints map[string]*Blueprint
}

// New creates an empty registry.
func New(logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Registry{
		logger:     logger,
		blueprints: make(map[string]*Blueprint),
	}, nil
}

type registerOptions struct {
	overwrite bool
}

// RegisterOption modifies Register.
type RegisterOption func(*registerOptions)

// WithOverwrite replaces an existing blueprint instead of failing.
func WithOverwrite() RegisterOption {
	return func(o *registerOptions) { o.overwrite = true }
}

// Register validates bp and stores a copy of it.
func (r *Registry) Register(bp Blueprint, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	stored, err := prepare(&bp)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.blueprints[stored.TypeID]; exists && !o.overwrite {
		return domain.DuplicateTypeError{TypeID: stored.TypeID}
	}
	r.blueprints[stored.TypeID] = stored

	r.logger.Debug("Registered component blueprint",
		zap.String("type_id", stored.TypeID),
		zap.String("domain", stored.Domain),
		zap.Int("behaviors", len(stored.Behaviors)),
		zap.Bool("overwrite", o.overwrite),
	)
	return nil
}

// prepare validates bp and returns a normalized deep copy. Default values
// without a schema entry get an inferred, unbounded spec.
func prepare(bp *Blueprint) (*Blueprint, error) {
	if bp.TypeID == "" {
		return nil, fmt.Errorf("blueprint type id is required")
	}
	if bp.Domain == "" {
		return nil, fmt.Errorf("blueprint %q: domain is required", bp.TypeID)
	}
	if !inUnit(bp.EmergencePotential) {
		return nil, domain.InvalidPropertyError{
			TypeID:   bp.TypeID,
			Property: PotentialOverrideKey,
			Reason:   fmt.Sprintf("%g outside 0..1", bp.EmergencePotential),
		}
	}

	out := bp.clone()
	for name, spec := range out.Schema {
		switch spec.Kind {
		case domain.PropertyNumber, domain.PropertyString, domain.PropertyBool:
		default:
			return nil, domain.InvalidPropertyError{TypeID: bp.TypeID, Property: name, Reason: fmt.Sprintf("unknown kind %q", spec.Kind)}
		}
		if (spec.Min != nil && !domain.Finite(*spec.Min)) || (spec.Max != nil && !domain.Finite(*spec.Max)) {
			return nil, domain.InvalidPropertyError{TypeID: bp.TypeID, Property: name, Reason: "bounds must be finite"}
		}
		if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
			return nil, domain.InvalidPropertyError{TypeID: bp.TypeID, Property: name, Reason: "min above max"}
		}
	}

	for name, raw := range out.Defaults {
		v, ok := domain.NormalizeValue(raw)
		if !ok {
			return nil, domain.InvalidPropertyError{TypeID: bp.TypeID, Property: name, Reason: fmt.Sprintf("unsupported default %v (%T)", raw, raw)}
		}
		spec, declared := out.Schema[name]
		if !declared {
			kind, _ := domain.KindOf(v)
			spec = PropertySpec{Kind: kind}
			out.Schema[name] = spec
		}
		if err := spec.Check(v); err != nil {
			return nil, domain.InvalidPropertyError{TypeID: bp.TypeID, Property: name, Reason: err.Error()}
		}
		out.Defaults[name] = v
	}

	for i, f := range out.Behaviors {
		if f == nil {
			return nil, fmt.Errorf("blueprint %q: behavior %d is nil", bp.TypeID, i)
		}
	}
	for _, rule := range out.Interactions {
		if rule.Target == "" {
			return nil, fmt.Errorf("blueprint %q: interaction rule without target", bp.TypeID)
		}
		if !domain.Finite(rule.Affinity) || rule.Affinity < 0 {
			return nil, fmt.Errorf("blueprint %q: affinity toward %q must be a finite non-negative number", bp.TypeID, rule.Target)
		}
		for _, cond := range rule.Conditions {
			if !domain.ValidOperator(cond.Operator) {
				return nil, fmt.Errorf("blueprint %q: condition %q has unsupported operator", bp.TypeID, cond)
			}
			if !domain.Finite(cond.Value) {
				return nil, fmt.Errorf("blueprint %q: condition %q threshold is not finite", bp.TypeID, cond)
			}
		}
	}
	return out, nil
}

// Unregister removes a blueprint. Live components are unaffected.
func (r *Registry) Unregister(typeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blueprints[typeID]; !ok {
		return domain.UnknownTypeError{TypeID: typeID}
	}
	delete(r.blueprints, typeID)
	r.logger.Debug("Unregistered component blueprint", zap.String("type_id", typeID))
	return nil
}

// Blueprint returns a copy of the registered blueprint.
func (r *Registry) Blueprint(typeID string) (*Blueprint, bool) {
	bp, ok := r.lookup(typeID)
	if !ok {
		return nil, false
	}
	return bp.clone(), true
}

// lookup returns the stored blueprint without copying. Callers must not
// modify it.
func (r *Registry) lookup(typeID string) (*Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[typeID]
	return bp, ok
}

// View returns a read-only blueprint for hot paths such as interaction
// discovery. Callers must not modify the result.
func (r *Registry) View(typeID string) (*Blueprint, bool) {
	return r.lookup(typeID)
}

// TypeIDs returns every registered type id in sorted order.
func (r *Registry) TypeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.blueprints))
	for id := range r.blueprints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered blueprints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blueprints)
}

// Instantiate creates a live component from a blueprint. The component id
// is left empty for the owning threat to assign.
func (r *Registry) Instantiate(typeID string, overrides map[string]any) (*domain.ThreatComponent, error) {
	bp, ok := r.lookup(typeID)
	if !ok {
		return nil, domain.UnknownTypeError{TypeID: typeID}
	}

	c := &domain.ThreatComponent{
		TypeID:             bp.TypeID,
		Domain:             bp.Domain,
		Properties:         make(map[string]any, len(bp.Defaults)+len(overrides)),
		EmergencePotential: bp.EmergencePotential,
		QualityLevel:       domain.QualityBalanced,
	}
	for k, v := range bp.Defaults {
		c.Properties[k] = v
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		v, ok := domain.NormalizeValue(overrides[name])
		if !ok {
			return nil, domain.InvalidPropertyError{TypeID: typeID, Property: name, Reason: fmt.Sprintf("unsupported value %v (%T)", overrides[name], overrides[name])}
		}

		if name == PotentialOverrideKey {
			p, isNum := v.(float64)
			if !isNum || !inUnit(p) {
				return nil, domain.InvalidPropertyError{TypeID: typeID, Property: name, Reason: "must be a number in 0..1"}
			}
			c.EmergencePotential = p
			continue
		}

		spec, declared := bp.Schema[name]
		if !declared {
			return nil, domain.InvalidPropertyError{TypeID: typeID, Property: name, Reason: "not declared by blueprint"}
		}
		if err := spec.Check(v); err != nil {
			return nil, domain.InvalidPropertyError{TypeID: typeID, Property: name, Reason: err.Error()}
		}
		c.Properties[name] = v
	}
	return c, nil
}
