package emergence

import (
	"github.com/yairfalse/threatforge/pkg/domain"
)

// effectsFor derives effect descriptors from the pair's base properties.
// Same components and magnitude always give the same descriptors.
//
//	SYNERGY         amplifies shared numerics on both sides
//	CONFLICT        dampens shared numerics on both sides
//	TRANSFORMATION  moves the consumed side's numerics into the consumer
//	PROPAGATION     spreads the source's numerics onto the target
func effectsFor(ix domain.ComponentInteraction, src, dst *domain.ThreatComponent, magnitude float64) []domain.EffectDescriptor {
	if src == nil || dst == nil || magnitude == 0 {
		return nil
	}

	var out []domain.EffectDescriptor
	add := func(c *domain.ThreatComponent, key string, delta float64) {
		if delta == 0 {
			return
		}
		out = append(out, domain.EffectDescriptor{ComponentID: c.ID, Property: key, Delta: delta})
	}

	switch ix.Kind {
	case domain.InteractionSynergy, domain.InteractionConflict:
		sign := 1.0
		if ix.Kind == domain.InteractionConflict {
			sign = -1
		}
		keys := sharedNumeric(src, dst)
		for _, c := range []*domain.ThreatComponent{src, dst} {
			ks := keys
			if len(ks) == 0 {
				ks = c.NumericKeys()
			}
			for _, k := range ks {
				v, _ := c.Number(k)
				add(c, k, sign*v*magnitude)
			}
		}

	case domain.InteractionTransformation:
		for _, k := range dst.NumericKeys() {
			v, _ := dst.Number(k)
			delta := v * magnitude
			add(dst, k, -delta)
			add(src, k, delta)
		}

	default:
		for _, k := range src.NumericKeys() {
			v, _ := src.Number(k)
			add(dst, k, v*magnitude)
		}
	}
	return out
}

func sharedNumeric(a, b *domain.ThreatComponent) []string {
	var out []string
	for _, k := range a.NumericKeys() {
		if _, ok := b.Number(k); ok {
			out = append(out, k)
		}
	}
	return out
}
