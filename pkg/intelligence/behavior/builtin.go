package behavior

import (
	"math"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// Built-in behavior kinds.
const (
	KindPropagation  = "propagation"
	KindInfection    = "infection"
	KindMutation     = "mutation"
	KindEncryption   = "encryption"
	KindEntanglement = "entanglement"
	KindCatalysis    = "catalysis"
	KindSwarm        = "swarm"
	KindStealth      = "stealth"
)

// Shared write targets used by built-ins that touch more than their own component.
const (
	WriteEntanglementField = "entanglement-field"
	WriteSwarmField        = "swarm-field"
)

func builtins() map[string]Factory {
	return map[string]Factory{
		KindPropagation:  newPropagation,
		KindInfection:    newInfection,
		KindMutation:     newMutation,
		KindEncryption:   newEncryption,
		KindEntanglement: newEntanglement,
		KindCatalysis:    newCatalysis,
		KindSwarm:        newSwarm,
		KindStealth:      newStealth,
	}
}

func number(c *domain.ThreatComponent, key string, fallback float64) float64 {
	if v, ok := c.Value(key); ok {
		return v
	}
	return fallback
}

// propagation spreads reach at rate and flags siblings once established.
func newPropagation(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindPropagation,
		Impact: domain.Impact{CPUWeight: 1, MemWeight: 0.5},
		Update: func(dt float64, tc *TickContext) error {
			rate := number(tc.Component, "rate", 0)
			reach := number(tc.Component, "reach", 0)
			reach = domain.Clamp01(reach + rate*dt*(1-reach))
			tc.Component.SetNumber("reach", reach)
			if reach >= PropagationTriggerReach {
				tc.EmitEmergentEvent(domain.EmergentTrigger{Boost: rate * reach, Reason: "reach established"})
			}
			return nil
		},
		Potential: func() float64 { return number(c, "reach", 0) },
	}
}

// infection grows logistically and seeds new exposure by chance.
func newInfection(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindInfection,
		Impact: domain.Impact{CPUWeight: 1.5, MemWeight: 1},
		Update: func(dt float64, tc *TickContext) error {
			rate := number(tc.Component, "transmissionRate", 0)
			infected := number(tc.Component, "infected", 0)
			infected += rate * infected * (1 - infected) * dt
			if tc.Rand.Float64() < rate*dt {
				infected += InfectionExposureStep
			}
			infected = domain.Clamp01(infected)
			tc.Component.SetNumber("infected", infected)
			if infected >= InfectionTriggerLevel {
				tc.EmitEmergentEvent(domain.EmergentTrigger{Boost: infected, Reason: "outbreak"})
			}
			return nil
		},
		Potential: func() float64 {
			return number(c, "infected", 0) * number(c, "virulence", 1)
		},
	}
}

// mutation drifts the component's variance at a random walk.
func newMutation(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindMutation,
		Impact: domain.Impact{CPUWeight: 2, MemWeight: 1},
		Update: func(dt float64, tc *TickContext) error {
			rate := number(tc.Component, "mutationRate", 0)
			if tc.Rand.Float64() >= rate*dt*MutationChanceScale {
				return nil
			}
			variance := number(tc.Component, "variance", 0)
			stability := number(tc.Component, "stability", 0.5)
			step := (tc.Rand.Float64()*2 - 1) * (1 - stability) * MutationStep
			tc.Component.SetNumber("variance", domain.Clamp01(variance+step))
			return nil
		},
		Potential: func() float64 {
			return domain.Clamp01(number(c, "mutationRate", 0) + number(c, "variance", 0)*0.5)
		},
	}
}

// encryption hardens over time. Expensive, so it is skipped at low quality.
func newEncryption(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindEncryption,
		Impact: domain.Impact{CPUWeight: 4, MemWeight: 2},
		Update: func(dt float64, tc *TickContext) error {
			cycles := number(tc.Component, "cycles", 0) + dt
			tc.Component.SetNumber("cycles", cycles)
			tc.Component.SetNumber("cipherStrength", 1-math.Exp(-cycles*EncryptionHardening))
			return nil
		},
		Potential: func() float64 { return number(c, "cipherStrength", 0) * 0.5 },
	}
}

// entanglement pulls coherence toward the mean potential of its siblings.
func newEntanglement(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindEntanglement,
		Impact: domain.Impact{CPUWeight: 5, MemWeight: 3},
		Writes: []string{WriteEntanglementField},
		Update: func(dt float64, tc *TickContext) error {
			siblings := tc.Siblings()
			coherence := number(tc.Component, "coherence", 0)
			if len(siblings) > 0 {
				var sum float64
				for _, s := range siblings {
					sum += s.EmergencePotential
				}
				mean := sum / float64(len(siblings))
				coherence += (mean - coherence) * math.Min(1, dt)
			}
			coherence -= number(tc.Component, "decoherence", 0) * dt
			coherence = domain.Clamp01(coherence)
			tc.Component.SetNumber("coherence", coherence)
			if coherence >= EntanglementTriggerCoherence {
				tc.EmitEmergentEvent(domain.EmergentTrigger{Boost: coherence, Reason: "entangled"})
			}
			return nil
		},
		Potential: func() float64 { return number(c, "coherence", 0) },
	}
}

// catalysis lowers activation barriers for every sibling it touches.
func newCatalysis(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindCatalysis,
		Impact: domain.Impact{CPUWeight: 1.5, MemWeight: 0.5},
		Update: func(dt float64, tc *TickContext) error {
			level := number(tc.Component, "catalystLevel", 0)
			if level <= 0 {
				return nil
			}
			for _, s := range tc.Siblings() {
				tc.EmitEmergentEvent(domain.EmergentTrigger{TargetID: s.ID, Boost: level, Reason: "catalysed"})
			}
			return nil
		},
		Potential: func() float64 { return number(c, "catalystLevel", 0) },
	}
}

// swarm grows with cohesion and with the number of nearby threats.
func newSwarm(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindSwarm,
		Impact: domain.Impact{CPUWeight: 3, MemWeight: 2},
		Writes: []string{WriteSwarmField},
		Update: func(dt float64, tc *TickContext) error {
			cohesion := number(tc.Component, "cohesion", 0)
			size := number(tc.Component, "size", 1)
			growth := cohesion * dt * (1 + float64(len(tc.Nearby))*SwarmNearbyBonus)
			size = math.Min(SwarmMaxSize, size*(1+growth))
			tc.Component.SetNumber("size", size)
			return nil
		},
		Potential: func() float64 {
			return domain.Clamp01(number(c, "cohesion", 0) * math.Log1p(number(c, "size", 1)) / math.Log1p(SwarmMaxSize))
		},
	}
}

// stealth lowers detection unless the environment pushes back.
func newStealth(c *domain.ThreatComponent) Behavior {
	return Behavior{
		Kind:   KindStealth,
		Impact: domain.Impact{CPUWeight: 0.5, MemWeight: 0.25},
		Update: func(dt float64, tc *TickContext) error {
			detection := number(tc.Component, "detection", 0)
			pressure, ok := tc.Environment("detection_pressure")
			if !ok {
				pressure = 0
			}
			cloak := number(tc.Component, "cloak", 0)
			detection += (pressure - cloak) * dt
			tc.Component.SetNumber("detection", domain.Clamp01(detection))
			return nil
		},
		Potential: func() float64 { return domain.Clamp01(1 - number(c, "detection", 0)) },
	}
}
