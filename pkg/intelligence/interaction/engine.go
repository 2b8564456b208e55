package interaction

import (
	"fmt"
	"sort"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/registry"
	"go.uber.org/zap"
)

// Config tunes discovery.
type Config struct {
	SynergyThreshold float64 `mapstructure:"synergy_threshold" yaml:"synergy_threshold"`
	CacheTolerance   float64 `mapstructure:"cache_tolerance" yaml:"cache_tolerance"`
	CacheSize        int     `mapstructure:"cache_size" yaml:"cache_size"`
}

// DefaultConfig returns the starting tunables.
func DefaultConfig() Config {
	return Config{
		SynergyThreshold: DefaultSynergyThreshold,
		CacheTolerance:   DefaultCacheTolerance,
		CacheSize:        DefaultCacheSize,
	}
}

// Input is one discovery pass over a threat's components.
type Input struct {
	ThreatID   string
	Tick       uint64
	Components []*domain.ThreatComponent

	// Budget caps pairs evaluated this pass. Zero or less means no cap.
	Budget int

	// Triggers emitted by behaviors this tick raise pair priority.
	Triggers []domain.EmergentTrigger

	// Potentials are per-component behavior potentials from the runtime,
	// used for pair estimates. Missing entries fall back to the
	// component's emergence potential.
	Potentials map[string]float64
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Evaluated holds interactions scored this pass, in evaluation order.
	Evaluated       []domain.ComponentInteraction
	PairsEvaluated  int
	PairsDeferred   int
	CacheHits       int
	CacheMisses     int
	Inconsistencies []domain.InteractionCacheInconsistency
}

// Stats are cumulative engine counters.
type Stats struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheEntries int
	Deferred     int
	Known        int
}

// Engine discovers interactions for one threat. It keeps per-pair
// deferral counts and the latest interaction per pair, so each threat
// needs its own engine. The registry and compatibility table are shared.
type Engine struct {
	logger   *zap.Logger
	registry *registry.Registry
	compat   *registry.CompatibilityTable
	cfg      Config

	cache     *scoreCache
	deferrals map[domain.PairKey]int
	latest    map[domain.PairKey]domain.ComponentInteraction

	hits, misses uint64
}

// NewEngine creates a discovery engine.
func NewEngine(logger *zap.Logger, reg *registry.Registry, compat *registry.CompatibilityTable, cfg Config) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if compat == nil {
		compat = registry.DefaultCompatibility()
	}
	if cfg.SynergyThreshold <= 0 {
		cfg.SynergyThreshold = DefaultSynergyThreshold
	}
	if cfg.CacheTolerance < 0 {
		cfg.CacheTolerance = 0
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	return &Engine{
		logger:    logger,
		registry:  reg,
		compat:    compat,
		cfg:       cfg,
		cache:     newScoreCache(cfg.CacheSize),
		deferrals: make(map[domain.PairKey]int),
		latest:    make(map[domain.PairKey]domain.ComponentInteraction),
	}, nil
}

type candidate struct {
	key      domain.PairKey
	a, b     *domain.ThreatComponent
	estimate float64
	deferred int
}

// Discover scores up to in.Budget pairs. Pairs left over are deferred and
// lead the next pass.
func (e *Engine) Discover(in Input) Result {
	var res Result

	byID := make(map[string]*domain.ThreatComponent, len(in.Components))
	for _, c := range in.Components {
		byID[c.ID] = c
	}
	res.Inconsistencies = e.reconcile(in.ThreatID, byID)

	candidates := make([]candidate, 0, len(in.Components)*(len(in.Components)-1)/2)
	for i := 0; i < len(in.Components); i++ {
		for j := i + 1; j < len(in.Components); j++ {
			a, b := in.Components[i], in.Components[j]
			key := domain.NewPairKey(a.ID, b.ID)
			if a.ID != key.A {
				a, b = b, a
			}
			candidates = append(candidates, candidate{
				key:      key,
				a:        a,
				b:        b,
				estimate: e.estimate(key, a, b, in),
				deferred: e.deferrals[key],
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.deferred != cj.deferred {
			return ci.deferred > cj.deferred
		}
		if ci.estimate != cj.estimate {
			return ci.estimate > cj.estimate
		}
		if ci.key.A != cj.key.A {
			return ci.key.A < cj.key.A
		}
		return ci.key.B < cj.key.B
	})

	limit := len(candidates)
	if in.Budget > 0 && in.Budget < limit {
		limit = in.Budget
	}

	for i, cand := range candidates {
		if i >= limit {
			e.deferrals[cand.key]++
			res.PairsDeferred++
			continue
		}
		delete(e.deferrals, cand.key)

		ix, hit := e.evaluate(cand.key, cand.a, cand.b)
		ix.EvaluatedTick = in.Tick
		e.latest[cand.key] = ix
		res.Evaluated = append(res.Evaluated, ix)
		res.PairsEvaluated++
		if hit {
			res.CacheHits++
		} else {
			res.CacheMisses++
		}
	}

	if res.PairsDeferred > 0 {
		e.logger.Debug("Deferred interaction pairs",
			zap.String("threat_id", in.ThreatID),
			zap.Uint64("tick", in.Tick),
			zap.Int("evaluated", res.PairsEvaluated),
			zap.Int("deferred", res.PairsDeferred),
		)
	}
	return res
}

// estimate ranks a pair before evaluation: the last known strength if any,
// else base compatibility times mean potential, plus any trigger boost.
func (e *Engine) estimate(key domain.PairKey, a, b *domain.ThreatComponent, in Input) float64 {
	var est float64
	if prev, ok := e.latest[key]; ok {
		est = prev.Strength
	} else {
		base := e.compat.Score(a.Domain, b.Domain).Score
		est = base * (potentialOf(a, in.Potentials) + potentialOf(b, in.Potentials)) / 2
	}

	var boost float64
	for _, t := range in.Triggers {
		switch {
		case t.SourceID == a.ID && t.Matches(b):
			boost += t.Boost
		case t.SourceID == b.ID && t.Matches(a):
			boost += t.Boost
		}
	}
	return est + domain.Clamp01(boost)
}

func potentialOf(c *domain.ThreatComponent, potentials map[string]float64) float64 {
	if p, ok := potentials[c.ID]; ok {
		return p
	}
	return c.EmergencePotential
}

// Score evaluates a single pair without touching deferral state. Useful for
// inspection and tests; discovery uses the same path.
func (e *Engine) Score(x, y *domain.ThreatComponent) domain.ComponentInteraction {
	key := domain.NewPairKey(x.ID, y.ID)
	a, b := x, y
	if a.ID != key.A {
		a, b = b, a
	}
	ix, _ := e.evaluate(key, a, b)
	return ix
}

type side struct {
	c  *domain.ThreatComponent
	bp *registry.Blueprint
	fp string
}

// evaluate scores a canonical pair (a.ID == key.A), consulting the cache.
func (e *Engine) evaluate(key domain.PairKey, a, b *domain.ThreatComponent) (domain.ComponentInteraction, bool) {
	sa := side{c: a}
	sb := side{c: b}
	sa.bp, _ = e.registry.View(a.TypeID)
	sb.bp, _ = e.registry.View(b.TypeID)

	sa.fp = fingerprint(a, fingerprintKeys(sa.bp, sb.bp, b.TypeID), e.cfg.CacheTolerance)
	sb.fp = fingerprint(b, fingerprintKeys(sb.bp, sa.bp, a.TypeID), e.cfg.CacheTolerance)

	first, second := sa, sb
	if sb.c.TypeID < sa.c.TypeID || (sb.c.TypeID == sa.c.TypeID && sb.fp < sa.fp) {
		first, second = sb, sa
	}
	ck := cacheKey{typeA: first.c.TypeID, fpA: first.fp, typeB: second.c.TypeID, fpB: second.fp}

	entry, hit := e.cache.get(ck)
	if hit {
		e.hits++
	} else {
		e.misses++
		entry = e.score(first, second)
		e.cache.put(ck, entry)
	}

	ix := domain.ComponentInteraction{
		Pair:              key,
		Strength:          entry.strength,
		Kind:              entry.kind,
		ConditionsMet:     true,
		EmergentPotential: entry.strength * a.EmergencePotential * b.EmergencePotential,
	}
	for _, dc := range entry.conditions {
		declarer, other := first.c, second.c
		if dc.declarer == 2 {
			declarer, other = other, declarer
		}
		ix.RequiredConditions = append(ix.RequiredConditions, dc.cond)
		if !conditionHolds(dc.cond, declarer, other) {
			ix.ConditionsMet = false
		}
	}

	src, dst := a, b
	switch entry.consumer {
	case 1:
		src, dst = first.c, second.c
	case 2:
		src, dst = second.c, first.c
	default:
		if entry.kind == domain.InteractionPropagation && b.EmergencePotential > a.EmergencePotential {
			src, dst = b, a
		}
	}
	ix.SourceID, ix.SourceType = src.ID, src.TypeID
	ix.TargetID, ix.TargetType = dst.ID, dst.TypeID
	return ix, hit
}

// fingerprintKeys lists the properties of own that affect a pair score:
// its tracked keys plus every condition field either side declares.
func fingerprintKeys(own, other *registry.Blueprint, otherType string) []string {
	var keys []string
	if own != nil {
		keys = append(keys, own.TrackedKeys()...)
		if r, ok := own.RuleFor(otherType); ok {
			for _, c := range r.Conditions {
				keys = append(keys, c.Field)
			}
		}
	}
	if other != nil && own != nil {
		if r, ok := other.RuleFor(own.TypeID); ok {
			for _, c := range r.Conditions {
				keys = append(keys, c.Field)
			}
		}
	}
	return keys
}

// score computes the cacheable part of an interaction.
func (e *Engine) score(first, second side) cacheEntry {
	compat := e.compat.Score(first.c.Domain, second.c.Domain)
	strength := domain.Clamp01(compat.Score * affinity(first, second))

	entry := cacheEntry{strength: strength}

	for i, pair := range [][2]side{{first, second}, {second, first}} {
		own, other := pair[0], pair[1]
		if own.bp == nil {
			continue
		}
		r, ok := own.bp.RuleFor(other.c.TypeID)
		if !ok {
			continue
		}
		for _, cond := range r.Conditions {
			entry.conditions = append(entry.conditions, declaredCondition{cond: cond, declarer: i + 1})
		}
	}

	switch {
	case strength >= e.cfg.SynergyThreshold && !compat.Adversarial && additiveCompatible(first.c, second.c):
		entry.kind = domain.InteractionSynergy
	case compat.Adversarial:
		entry.kind = domain.InteractionConflict
	case consumes(first, second):
		entry.kind = domain.InteractionTransformation
		entry.consumer = 1
	case consumes(second, first):
		entry.kind = domain.InteractionTransformation
		entry.consumer = 2
	default:
		entry.kind = domain.InteractionPropagation
	}
	return entry
}

// affinity is the declared multiplier between two types: the mean of both
// directions when both declare, else whichever does, else neutral.
func affinity(x, y side) float64 {
	var sum float64
	var n int
	if x.bp != nil {
		if r, ok := x.bp.RuleFor(y.c.TypeID); ok {
			sum += r.Affinity
			n++
		}
	}
	if y.bp != nil {
		if r, ok := y.bp.RuleFor(x.c.TypeID); ok {
			sum += r.Affinity
			n++
		}
	}
	if n == 0 {
		return NeutralAffinity
	}
	return sum / float64(n)
}

// conditionHolds evaluates against the declaring component, falling back
// to the other side when the declarer lacks the field.
func conditionHolds(cond domain.Condition, declarer, other *domain.ThreatComponent) bool {
	if v, ok := declarer.Value(cond.Field); ok {
		return cond.Evaluate(v)
	}
	if v, ok := other.Value(cond.Field); ok {
		return cond.Evaluate(v)
	}
	return false
}

// additiveCompatible reports whether every shared property has the same
// kind on both sides.
func additiveCompatible(a, b *domain.ThreatComponent) bool {
	for k, va := range a.Properties {
		vb, shared := b.Properties[k]
		if !shared {
			continue
		}
		ka, _ := domain.KindOf(va)
		kb, _ := domain.KindOf(vb)
		if ka != kb {
			return false
		}
	}
	return true
}

func consumes(consumer, source side) bool {
	if consumer.bp == nil || source.bp == nil {
		return false
	}
	_, ok := consumer.bp.ConsumesFrom(source.bp)
	return ok
}

// Forget drops all pair state involving a removed component.
func (e *Engine) Forget(componentID string) {
	for k := range e.deferrals {
		if k.Contains(componentID) {
			delete(e.deferrals, k)
		}
	}
	for k := range e.latest {
		if k.Contains(componentID) {
			delete(e.latest, k)
		}
	}
}

// reconcile purges pair state that references components not in present,
// reporting each stale interaction.
func (e *Engine) reconcile(threatID string, present map[string]*domain.ThreatComponent) []domain.InteractionCacheInconsistency {
	var out []domain.InteractionCacheInconsistency
	for k := range e.deferrals {
		if present[k.A] == nil || present[k.B] == nil {
			delete(e.deferrals, k)
		}
	}

	keys := make([]domain.PairKey, 0)
	for k := range e.latest {
		if present[k.A] == nil || present[k.B] == nil {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	for _, k := range keys {
		missing := k.A
		if present[k.A] != nil {
			missing = k.B
		}
		delete(e.latest, k)
		inc := domain.InteractionCacheInconsistency{
			ThreatID:  threatID,
			Pair:      k,
			MissingID: missing,
			Source:    "interaction_cache",
		}
		e.logger.Warn("Purged stale interaction",
			zap.String("threat_id", threatID),
			zap.String("pair", k.String()),
			zap.String("missing_id", missing),
		)
		out = append(out, inc)
	}
	return out
}

// Interactions returns the latest interaction for every known pair,
// sorted by pair key.
func (e *Engine) Interactions() []domain.ComponentInteraction {
	keys := make([]domain.PairKey, 0, len(e.latest))
	for k := range e.latest {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]domain.ComponentInteraction, len(keys))
	for i, k := range keys {
		ix := e.latest[k]
		ix.RequiredConditions = append([]domain.Condition(nil), ix.RequiredConditions...)
		out[i] = ix
	}
	return out
}

// Interaction returns the latest interaction for a pair.
func (e *Engine) Interaction(key domain.PairKey) (domain.ComponentInteraction, bool) {
	ix, ok := e.latest[key]
	return ix, ok
}

// Deferrals returns how many consecutive passes a pair has been deferred.
func (e *Engine) Deferrals(key domain.PairKey) int {
	return e.deferrals[key]
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CacheHits:    e.hits,
		CacheMisses:  e.misses,
		CacheEntries: e.cache.len(),
		Deferred:     len(e.deferrals),
		Known:        len(e.latest),
	}
}

func sortKeys(keys []domain.PairKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
}
