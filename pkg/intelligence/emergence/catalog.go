package emergence

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
)

var emergentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("threatforge/emergent-behavior"))

// Config tunes activation, effects and decay.
type Config struct {
	ActivationThreshold  float64 `mapstructure:"activation_threshold" yaml:"activation_threshold"`
	MaxEmergentBehaviors int     `mapstructure:"max_emergent_behaviors" yaml:"max_emergent_behaviors"`
	CooldownTicks        uint64  `mapstructure:"cooldown_ticks" yaml:"cooldown_ticks"`
	DecayTicks           uint64  `mapstructure:"decay_ticks" yaml:"decay_ticks"`
	EffectScale          float64 `mapstructure:"effect_scale" yaml:"effect_scale"`
	EffectJitter         float64 `mapstructure:"effect_jitter" yaml:"effect_jitter"`
	HistorySize          int     `mapstructure:"history_size" yaml:"history_size"`
	BloomCapacity        uint    `mapstructure:"bloom_capacity" yaml:"bloom_capacity"`
	BloomFalsePositive   float64 `mapstructure:"bloom_false_positive" yaml:"bloom_false_positive"`
}

// DefaultConfig returns the starting tunables.
func DefaultConfig() Config {
	return Config{
		ActivationThreshold:  DefaultActivationThreshold,
		MaxEmergentBehaviors: DefaultMaxEmergentBehaviors,
		CooldownTicks:        DefaultCooldownTicks,
		DecayTicks:           DefaultDecayTicks,
		EffectScale:          DefaultEffectScale,
		EffectJitter:         0,
		HistorySize:          DefaultHistorySize,
		BloomCapacity:        DefaultBloomCapacity,
		BloomFalsePositive:   DefaultBloomFalsePositive,
	}
}

// Record is one entry of activation history.
type Record struct {
	ID               string                 `json:"id"`
	Origin           domain.PairKey         `json:"origin"`
	Kind             domain.InteractionKind `json:"kind"`
	Score            float64                `json:"score"`
	ActivationTick   uint64                 `json:"activation_tick"`
	DeactivationTick uint64                 `json:"deactivation_tick,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Novel            bool                   `json:"novel"`
}

// Deactivation pairs a removed behavior with why it was removed.
type Deactivation struct {
	Behavior domain.EmergentBehavior
	Reason   string
	Reverted bool
}

// Deactivation reasons.
const (
	ReasonExpired       = "expired"
	ReasonOriginRemoved = "origin_removed"
	ReasonInconsistent  = "inconsistent"
)

// Input is one catalog pass, run after discovery.
type Input struct {
	ThreatID     string
	Tick         uint64
	Components   []*domain.ThreatComponent
	Interactions []domain.ComponentInteraction

	// Rand drives effect jitter. Nil disables jitter.
	Rand *rand.Rand
}

// Result reports what changed in one pass.
type Result struct {
	Activated   []domain.EmergentBehavior
	Deactivated []Deactivation
}

// Catalog turns interactions into emergent behaviors for one threat.
// At most one behavior is active per component pair.
type Catalog struct {
	logger *zap.Logger
	cfg    Config

	active   map[domain.PairKey]*domain.EmergentBehavior
	cooldown map[domain.PairKey]uint64 // first tick a pair may activate again

	history []Record
	next    int
	seen    *bloom.BloomFilter

	activations   uint64
	deactivations uint64
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger, cfg Config) (*Catalog, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.ActivationThreshold < 0 {
		return nil, fmt.Errorf("activation threshold must be non-negative, got %g", cfg.ActivationThreshold)
	}
	if cfg.MaxEmergentBehaviors <= 0 {
		cfg.MaxEmergentBehaviors = DefaultMaxEmergentBehaviors
	}
	if cfg.DecayTicks == 0 {
		cfg.DecayTicks = DefaultDecayTicks
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = DefaultBloomCapacity
	}
	if cfg.BloomFalsePositive <= 0 || cfg.BloomFalsePositive >= 1 {
		cfg.BloomFalsePositive = DefaultBloomFalsePositive
	}
	return &Catalog{
		logger:   logger,
		cfg:      cfg,
		active:   make(map[domain.PairKey]*domain.EmergentBehavior),
		cooldown: make(map[domain.PairKey]uint64),
		history:  make([]Record, 0, cfg.HistorySize),
		seen:     bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFalsePositive),
	}, nil
}

// ActivationScore is the multiplicative activation model.
func ActivationScore(strength, potentialA, potentialB float64) float64 {
	return strength * potentialA * potentialB
}

// Process expires behaviors whose decay has elapsed, then activates
// eligible interactions in score order.
func (c *Catalog) Process(in Input) Result {
	var res Result
	byID := indexComponents(in.Components)

	for _, key := range c.sortedActive() {
		b := c.active[key]
		if b.Expired(in.Tick) {
			res.Deactivated = append(res.Deactivated, c.deactivate(in.ThreatID, key, in.Tick, ReasonExpired, byID))
		}
	}

	type candidate struct {
		ix    domain.ComponentInteraction
		score float64
	}
	var candidates []candidate
	for _, ix := range in.Interactions {
		if !ix.ConditionsMet {
			continue
		}
		if _, on := c.active[ix.Pair]; on {
			continue
		}
		if until, cooling := c.cooldown[ix.Pair]; cooling && in.Tick < until {
			continue
		}
		a, b := byID[ix.Pair.A], byID[ix.Pair.B]
		if a == nil || b == nil {
			continue
		}
		score := ActivationScore(ix.Strength, a.EmergencePotential, b.EmergencePotential)
		if score < c.cfg.ActivationThreshold {
			continue
		}
		candidates = append(candidates, candidate{ix: ix, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		pi, pj := candidates[i].ix.Pair, candidates[j].ix.Pair
		if pi.A != pj.A {
			return pi.A < pj.A
		}
		return pi.B < pj.B
	})

	for _, cand := range candidates {
		if len(c.active) >= c.cfg.MaxEmergentBehaviors {
			break
		}
		if _, on := c.active[cand.ix.Pair]; on {
			continue
		}
		b := c.activate(in, cand.ix, cand.score, byID)
		res.Activated = append(res.Activated, b.Clone())
	}
	return res
}

func (c *Catalog) activate(in Input, ix domain.ComponentInteraction, score float64, byID map[string]*domain.ThreatComponent) *domain.EmergentBehavior {
	key := ix.Pair
	name := fmt.Sprintf("%s/%s/%d", in.ThreatID, key, in.Tick)

	b := &domain.EmergentBehavior{
		ID:             uuid.NewSHA1(emergentNamespace, []byte(name)).String(),
		Origin:         key,
		Kind:           ix.Kind,
		ActivationTick: in.Tick,
		Score:          score,
		Decay:          c.decayFor(ix.Kind),
	}

	jitter := 1.0
	if in.Rand != nil && c.cfg.EffectJitter > 0 {
		jitter += (in.Rand.Float64()*2 - 1) * c.cfg.EffectJitter
	}
	b.Effects = effectsFor(ix, byID[ix.SourceID], byID[ix.TargetID], c.cfg.EffectScale*score*jitter)
	for _, eff := range b.Effects {
		if comp := byID[eff.ComponentID]; comp != nil {
			comp.AddModifier(eff.Property, eff.Delta)
		}
	}

	seenBefore := c.seen.TestAndAdd([]byte(key.String()))
	b.Novel = !seenBefore

	c.active[key] = b
	c.activations++
	c.record(Record{
		ID:             b.ID,
		Origin:         key,
		Kind:           b.Kind,
		Score:          score,
		ActivationTick: in.Tick,
		Novel:          b.Novel,
	})

	c.logger.Debug("Emergent behavior activated",
		zap.String("threat_id", in.ThreatID),
		zap.String("behavior_id", b.ID),
		zap.String("pair", key.String()),
		zap.String("kind", string(b.Kind)),
		zap.Float64("score", score),
		zap.Bool("novel", b.Novel),
	)
	return b
}

func (c *Catalog) decayFor(kind domain.InteractionKind) domain.DecayPolicy {
	scale, reversible := 1.0, true
	switch kind {
	case domain.InteractionConflict:
		scale = ConflictDecayScale
	case domain.InteractionTransformation:
		scale, reversible = TransformationDecayScale, false
	case domain.InteractionPropagation:
		scale = PropagationDecayScale
	}
	ticks := uint64(float64(c.cfg.DecayTicks) * scale)
	if ticks == 0 {
		ticks = 1
	}
	return domain.DecayPolicy{DurationTicks: ticks, Reversible: reversible}
}

// deactivate removes an active behavior, reverting reversible effects on
// components that are still present.
func (c *Catalog) deactivate(threatID string, key domain.PairKey, tick uint64, reason string, byID map[string]*domain.ThreatComponent) Deactivation {
	b := c.active[key]
	delete(c.active, key)
	c.deactivations++
	c.cooldown[key] = tick + c.cfg.CooldownTicks

	d := Deactivation{Behavior: b.Clone(), Reason: reason}
	if b.Decay.Reversible {
		for _, eff := range b.Effects {
			if comp := byID[eff.ComponentID]; comp != nil {
				comp.AddModifier(eff.Property, -eff.Delta)
			}
		}
		d.Reverted = true
	}
	c.closeRecord(b.ID, tick, reason)

	c.logger.Debug("Emergent behavior deactivated",
		zap.String("threat_id", threatID),
		zap.String("behavior_id", b.ID),
		zap.String("pair", key.String()),
		zap.String("reason", reason),
	)
	return d
}

// RemoveComponent deactivates every behavior originating from id. The
// remaining components are used to revert effects.
func (c *Catalog) RemoveComponent(threatID, id string, tick uint64, remaining []*domain.ThreatComponent) []Deactivation {
	byID := indexComponents(remaining)
	var out []Deactivation
	for _, key := range c.sortedActive() {
		if key.Contains(id) {
			out = append(out, c.deactivate(threatID, key, tick, ReasonOriginRemoved, byID))
		}
	}
	for key := range c.cooldown {
		if key.Contains(id) {
			delete(c.cooldown, key)
		}
	}
	return out
}

// CheckConsistency removes behaviors whose origin references a component
// that is not present and reports each one.
func (c *Catalog) CheckConsistency(threatID string, tick uint64, present []*domain.ThreatComponent) ([]Deactivation, []domain.InteractionCacheInconsistency) {
	byID := indexComponents(present)
	var deactivated []Deactivation
	var issues []domain.InteractionCacheInconsistency
	for _, key := range c.sortedActive() {
		missing := ""
		switch {
		case byID[key.A] == nil:
			missing = key.A
		case byID[key.B] == nil:
			missing = key.B
		default:
			continue
		}
		issues = append(issues, domain.InteractionCacheInconsistency{
			ThreatID:  threatID,
			Pair:      key,
			MissingID: missing,
			Source:    "emergent_catalog",
		})
		c.logger.Warn("Emergent behavior references missing component",
			zap.String("threat_id", threatID),
			zap.String("pair", key.String()),
			zap.String("missing_id", missing),
		)
		deactivated = append(deactivated, c.deactivate(threatID, key, tick, ReasonInconsistent, byID))
	}
	return deactivated, issues
}

// Clear deactivates everything, reverting reversible effects.
func (c *Catalog) Clear(threatID string, tick uint64, components []*domain.ThreatComponent) []Deactivation {
	byID := indexComponents(components)
	var out []Deactivation
	for _, key := range c.sortedActive() {
		out = append(out, c.deactivate(threatID, key, tick, ReasonOriginRemoved, byID))
	}
	return out
}

// Active returns copies of the active behaviors ordered by activation
// tick, then id.
func (c *Catalog) Active() []domain.EmergentBehavior {
	out := make([]domain.EmergentBehavior, 0, len(c.active))
	for _, b := range c.active {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActivationTick != out[j].ActivationTick {
			return out[i].ActivationTick < out[j].ActivationTick
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsActive reports whether the pair has an active behavior.
func (c *Catalog) IsActive(key domain.PairKey) bool {
	_, ok := c.active[key]
	return ok
}

// Len returns the number of active behaviors.
func (c *Catalog) Len() int { return len(c.active) }

// EverActivated reports whether the pair has activated before. False
// positives are possible, false negatives are not.
func (c *Catalog) EverActivated(key domain.PairKey) bool {
	return c.seen.Test([]byte(key.String()))
}

// History returns activation records, oldest first.
func (c *Catalog) History() []Record {
	if len(c.history) < c.cfg.HistorySize {
		return append([]Record(nil), c.history...)
	}
	out := make([]Record, 0, len(c.history))
	out = append(out, c.history[c.next:]...)
	out = append(out, c.history[:c.next]...)
	return out
}

// Counts returns lifetime activation and deactivation totals.
func (c *Catalog) Counts() (activations, deactivations uint64) {
	return c.activations, c.deactivations
}

func (c *Catalog) record(r Record) {
	if len(c.history) < c.cfg.HistorySize {
		c.history = append(c.history, r)
		return
	}
	c.history[c.next] = r
	c.next = (c.next + 1) % c.cfg.HistorySize
}

func (c *Catalog) closeRecord(id string, tick uint64, reason string) {
	for i := range c.history {
		if c.history[i].ID == id {
			c.history[i].DeactivationTick = tick
			c.history[i].Reason = reason
			return
		}
	}
}

func (c *Catalog) sortedActive() []domain.PairKey {
	keys := make([]domain.PairKey, 0, len(c.active))
	for k := range c.active {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	return keys
}

func indexComponents(components []*domain.ThreatComponent) map[string]*domain.ThreatComponent {
	m := make(map[string]*domain.ThreatComponent, len(components))
	for _, c := range components {
		m[c.ID] = c
	}
	return m
}
