package registry

import (
	"fmt"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
)

// Built-in component type ids.
const (
	TypePropagation  = "PROPAGATION"
	TypeInfection    = "INFECTION"
	TypeMutation     = "MUTATION"
	TypeEncryption   = "ENCRYPTION"
	TypeEntanglement = "ENTANGLEMENT"
	TypeCatalyst     = "CATALYST"
	TypeSwarm        = "SWARM"
	TypeStealth      = "STEALTH"
)

func tracked(s PropertySpec) PropertySpec {
	s.Tracked = true
	return s
}

type builtinBlueprint struct {
	bp    Blueprint
	kinds []string
}

func builtinBlueprints() []builtinBlueprint {
	return []builtinBlueprint{
		{
			kinds: []string{behavior.KindPropagation},
			bp: Blueprint{
				TypeID: TypePropagation,
				Domain: DomainCyber,
				Schema: map[string]PropertySpec{
					"rate":  tracked(Range(0, 1)),
					"reach": tracked(Range(0, 1)),
				},
				Defaults:           map[string]any{"rate": 0.5, "reach": 0.0},
				EmergencePotential: 0.6,
				Traits:             []string{"spread"},
				Interactions: []InteractionRule{
					{Target: TypeInfection, Affinity: 1.2, Conditions: []domain.Condition{{Field: "rate", Operator: ">=", Value: 0.3}}},
					{Target: TypeSwarm, Affinity: 1.1},
				},
			},
		},
		{
			kinds: []string{behavior.KindInfection},
			bp: Blueprint{
				TypeID: TypeInfection,
				Domain: DomainBiological,
				Schema: map[string]PropertySpec{
					"transmissionRate": tracked(Range(0, 1)),
					"infected":         tracked(Range(0, 1)),
					"virulence":        Range(0, 1),
				},
				Defaults:           map[string]any{"transmissionRate": 0.5, "infected": 0.05, "virulence": 0.5},
				EmergencePotential: 0.7,
				Traits:             []string{"pathogen"},
				Interactions: []InteractionRule{
					{Target: TypePropagation, Affinity: 1.2},
					{Target: TypeMutation, Affinity: 1.1},
				},
			},
		},
		{
			kinds: []string{behavior.KindMutation},
			bp: Blueprint{
				TypeID: TypeMutation,
				Domain: DomainBiological,
				Schema: map[string]PropertySpec{
					"mutationRate": tracked(Range(0, 1)),
					"variance":     tracked(Range(0, 1)),
					"stability":    Range(0, 1),
				},
				Defaults:           map[string]any{"mutationRate": 0.2, "variance": 0.1, "stability": 0.5},
				EmergencePotential: 0.6,
				Traits:             []string{"genome"},
				Consumes:           []string{"pathogen"},
				Interactions: []InteractionRule{
					{Target: TypeInfection, Affinity: 1.1},
				},
			},
		},
		{
			kinds: []string{behavior.KindEncryption},
			bp: Blueprint{
				TypeID: TypeEncryption,
				Domain: DomainCyber,
				Schema: map[string]PropertySpec{
					"cycles":         {Kind: domain.PropertyNumber, Min: ptr(0)},
					"cipherStrength": tracked(Range(0, 1)),
				},
				Defaults:           map[string]any{"cycles": 0.0, "cipherStrength": 0.0},
				EmergencePotential: 0.5,
				Traits:             []string{"cipher"},
			},
		},
		{
			kinds: []string{behavior.KindEntanglement},
			bp: Blueprint{
				TypeID: TypeEntanglement,
				Domain: DomainQuantum,
				Schema: map[string]PropertySpec{
					"coherence":   tracked(Range(0, 1)),
					"decoherence": Range(0, 1),
				},
				Defaults:           map[string]any{"coherence": 0.5, "decoherence": 0.05},
				EmergencePotential: 0.8,
				Traits:             []string{"superposition"},
				Consumes:           []string{"cipher"},
				Interactions: []InteractionRule{
					{Target: TypeEncryption, Affinity: 1.0},
				},
			},
		},
		{
			kinds: []string{behavior.KindCatalysis},
			bp: Blueprint{
				TypeID: TypeCatalyst,
				Domain: DomainChemical,
				Schema: map[string]PropertySpec{
					"catalystLevel": tracked(Range(0, 1)),
				},
				Defaults:           map[string]any{"catalystLevel": 0.5},
				EmergencePotential: 0.5,
				Traits:             []string{"reagent"},
				Interactions: []InteractionRule{
					{Target: TypeInfection, Affinity: 1.15},
					{Target: TypeMutation, Affinity: 1.15},
				},
			},
		},
		{
			kinds: []string{behavior.KindSwarm},
			bp: Blueprint{
				TypeID: TypeSwarm,
				Domain: DomainSocial,
				Schema: map[string]PropertySpec{
					"cohesion": tracked(Range(0, 1)),
					"size":     tracked(Range(1, behavior.SwarmMaxSize)),
				},
				Defaults:           map[string]any{"cohesion": 0.4, "size": 10.0},
				EmergencePotential: 0.6,
				Traits:             []string{"collective"},
				Interactions: []InteractionRule{
					{Target: TypePropagation, Affinity: 1.1},
				},
			},
		},
		{
			kinds: []string{behavior.KindStealth},
			bp: Blueprint{
				TypeID: TypeStealth,
				Domain: DomainPhysical,
				Schema: map[string]PropertySpec{
					"detection": tracked(Range(0, 1)),
					"cloak":     Range(0, 1),
				},
				Defaults:           map[string]any{"detection": 0.3, "cloak": 0.2},
				EmergencePotential: 0.4,
				Traits:             []string{"concealment"},
			},
		},
	}
}

func ptr(v float64) *float64 { return &v }

// RegisterDefaults registers the built-in blueprints, resolving behavior
// kinds through lib.
func RegisterDefaults(r *Registry, lib *behavior.Library, opts ...RegisterOption) error {
	for _, b := range builtinBlueprints() {
		bp := b.bp
		for _, kind := range b.kinds {
			f, ok := lib.Factory(kind)
			if !ok {
				return fmt.Errorf("blueprint %q: behavior kind %q not in library", bp.TypeID, kind)
			}
			bp.Behaviors = append(bp.Behaviors, f)
			bp.BehaviorKinds = append(bp.BehaviorKinds, kind)
		}
		if err := r.Register(bp, opts...); err != nil {
			return fmt.Errorf("failed to register built-in %s: %w", bp.TypeID, err)
		}
	}
	return nil
}
