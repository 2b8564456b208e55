package composer

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yairfalse/threatforge/pkg/config"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/events"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"github.com/yairfalse/threatforge/pkg/intelligence/emergence"
	"github.com/yairfalse/threatforge/pkg/intelligence/interaction"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
	"github.com/yairfalse/threatforge/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrComponentNotFound is returned for an id not in the threat.
	ErrComponentNotFound = errors.New("component not found")

	// ErrThreatDestroyed is returned when mutating a destroyed threat.
	ErrThreatDestroyed = errors.New("threat destroyed")
)

var (
	threatNamespace    = uuid.NewSHA1(uuid.NameSpaceURL, []byte("threatforge/threat"))
	componentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("threatforge/component"))
)

// ComponentSpec requests one component of a registered type.
type ComponentSpec struct {
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Composer builds composite threats from registered component types and
// advances them one tick at a time. A Composer is safe for concurrent use;
// threats are independent and may be ticked in parallel.
type Composer struct {
	logger   *zap.Logger
	registry *registry.Registry
	compat   *registry.CompatibilityTable
	sink     events.Sink
	clock    performance.Clock
	profile  *performance.Profile
	runner   *behavior.Runner
	tracer   trace.Tracer
	metrics  instruments

	interactionCfg interaction.Config
	emergenceCfg   emergence.Config
	governorCfg    performance.Config

	seq atomic.Uint64
}

// New creates a composer over reg.
func New(logger *zap.Logger, reg *registry.Registry, opts ...Option) (*Composer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	o := options{concurrency: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	governorCfg, err := o.cfg.PerformanceConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid governor config: %w", err)
	}
	if err := governorCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governor config: %w", err)
	}

	if o.profile == nil {
		level, err := o.cfg.QualityLevel()
		if err != nil {
			return nil, fmt.Errorf("invalid quality: %w", err)
		}
		o.profile = performance.NewProfile(level)
	}
	if o.concurrency < 0 {
		o.concurrency = o.cfg.Engine.BehaviorConcurrency
	}
	if o.clock == nil {
		o.clock = performance.RealClock()
	}
	if o.sink == nil {
		o.sink = events.Discard{}
	}
	if o.compat == nil {
		o.compat = registry.DefaultCompatibility()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	runner, err := behavior.NewRunner(logger.Named("behavior"), o.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create behavior runner: %w", err)
	}

	return &Composer{
		logger:         logger,
		registry:       reg,
		compat:         o.compat,
		sink:           o.sink,
		clock:          o.clock,
		profile:        o.profile,
		runner:         runner,
		tracer:         o.tracerProvider.Tracer(InstrumentationName),
		metrics:        newInstruments(o.meterProvider.Meter(InstrumentationName), logger),
		interactionCfg: o.cfg.Interaction,
		emergenceCfg:   o.cfg.EmergenceConfig(),
		governorCfg:    governorCfg,
	}, nil
}

// Profile returns the shared quality profile.
func (c *Composer) Profile() *performance.Profile {
	return c.profile
}

// Registry returns the component registry.
func (c *Composer) Registry() *registry.Registry {
	return c.registry
}

// ComposeThreat instantiates every spec in order and binds their
// behaviors. No emergent behavior exists until the first tick.
func (c *Composer) ComposeThreat(specs []ComponentSpec, opts ...ThreatOption) (*Threat, error) {
	var o threatOptions
	for _, opt := range opts {
		opt(&o)
	}

	n := c.seq.Add(1)
	id := o.id
	if id == "" {
		id = uuid.NewSHA1(threatNamespace, []byte("threat/"+strconv.FormatUint(n, 10))).String()
	}
	quality := c.profile.Level()
	if o.hasQuality {
		if !o.quality.Valid() {
			return nil, fmt.Errorf("invalid quality level %d", int(o.quality))
		}
		quality = o.quality
	}

	t := &Threat{id: id}
	for i, spec := range specs {
		comp, insts, err := c.instantiate(t, spec)
		if err != nil {
			return nil, fmt.Errorf("component %d (%s): %w", i, spec.Type, err)
		}
		t.components = append(t.components, comp)
		t.behaviors = append(t.behaviors, insts)
	}

	var err error
	if t.discovery, err = interaction.NewEngine(c.logger.Named("interaction"), c.registry, c.compat, c.interactionCfg); err != nil {
		return nil, fmt.Errorf("failed to create interaction engine: %w", err)
	}
	if t.catalog, err = emergence.NewCatalog(c.logger.Named("emergence"), c.emergenceCfg); err != nil {
		return nil, fmt.Errorf("failed to create emergent catalog: %w", err)
	}
	if t.governor, err = performance.NewGovernor(c.governorCfg, quality); err != nil {
		return nil, fmt.Errorf("failed to create governor: %w", err)
	}
	t.setComponentQuality(t.governor.Level())

	c.logger.Debug("Composed threat",
		zap.String("threat_id", t.id),
		zap.Int("components", len(t.components)),
		zap.String("quality", t.governor.Level().String()),
	)
	return t, nil
}

// instantiate creates one component with the next ordinal id of t.
func (c *Composer) instantiate(t *Threat, spec ComponentSpec) (*domain.ThreatComponent, []*behavior.Instance, error) {
	comp, err := c.registry.Instantiate(spec.Type, spec.Properties)
	if err != nil {
		return nil, nil, err
	}
	bp, ok := c.registry.View(spec.Type)
	if !ok {
		return nil, nil, domain.UnknownTypeError{TypeID: spec.Type}
	}

	ordinal := t.nextOrdinal
	t.nextOrdinal++
	comp.ID = uuid.NewSHA1(componentNamespace, []byte(t.id+"/"+strconv.FormatUint(ordinal, 10))).String()
	if t.governor != nil {
		comp.QualityLevel = t.governor.Level()
	}
	return comp, behavior.Bind(comp, bp.Behaviors), nil
}

// AddComponent appends a component to a live threat and returns its id.
// Its pairs are discovered from the next tick on.
func (c *Composer) AddComponent(t *Threat, spec ComponentSpec) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return "", ErrThreatDestroyed
	}

	comp, insts, err := c.instantiate(t, spec)
	if err != nil {
		return "", err
	}
	t.components = append(t.components, comp)
	t.behaviors = append(t.behaviors, insts)
	return comp.ID, nil
}

// RemoveComponent removes a component, purges its pair state and
// deactivates every emergent behavior it originated.
func (c *Composer) RemoveComponent(t *Threat, componentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrThreatDestroyed
	}

	idx := t.indexOf(componentID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}
	t.components = append(t.components[:idx], t.components[idx+1:]...)
	t.behaviors = append(t.behaviors[:idx], t.behaviors[idx+1:]...)

	kept := t.faults[:0]
	for _, f := range t.faults {
		if f.ComponentID != componentID {
			kept = append(kept, f)
		}
	}
	t.faults = kept

	t.discovery.Forget(componentID)
	for _, d := range t.catalog.RemoveComponent(t.id, componentID, t.tick, t.components) {
		c.publishDeactivation(t, d)
	}
	return nil
}

// ResetBehaviors re-enables every faulted behavior of t and clears its
// fault records. It returns the number of behaviors re-enabled.
func (c *Composer) ResetBehaviors(t *Threat) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, insts := range t.behaviors {
		for _, inst := range insts {
			if inst.Disabled {
				inst.Disabled = false
				n++
			}
		}
	}
	t.faults = nil
	if n > 0 {
		c.logger.Info("Re-enabled faulted behaviors",
			zap.String("threat_id", t.id),
			zap.Int("count", n),
		)
	}
	return n
}

// Destroy tears the threat down, reverting emergent effects. A call made
// while the threat is mid-tick takes effect at the end of that tick.
func (c *Composer) Destroy(t *Threat) {
	t.destroyRequested.Store(true)
	if t.updating.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c.finishDestroy(t)
}

// finishDestroy runs with t.mu held.
func (c *Composer) finishDestroy(t *Threat) {
	if t.destroyed {
		return
	}
	for _, d := range t.catalog.Clear(t.id, t.tick, t.components) {
		c.publishDeactivation(t, d)
	}
	t.destroyed = true
	c.logger.Debug("Destroyed threat",
		zap.String("threat_id", t.id),
		zap.Uint64("tick", t.tick),
	)
}

func (c *Composer) publish(ev domain.ThreatEvent) {
	c.sink.Publish(ev)
}

func (c *Composer) publishDeactivation(t *Threat, d emergence.Deactivation) {
	b := d.Behavior
	c.publish(domain.ThreatEvent{
		Type:     domain.EventEmergentBehaviorDeactivated,
		ThreatID: t.id,
		Tick:     t.tick,
		Emergent: &b,
		Reason:   d.Reason,
	})
}
