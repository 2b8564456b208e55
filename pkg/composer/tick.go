package composer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"github.com/yairfalse/threatforge/pkg/intelligence/emergence"
	"github.com/yairfalse/threatforge/pkg/intelligence/interaction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// UpdateThreat advances t by one tick of dt seconds. It never panics and
// never returns an error: behavior failures are recorded as faults on the
// threat and published as events.
func (c *Composer) UpdateThreat(t *Threat, dt float64, sim behavior.SimulationContext) {
	c.UpdateThreatContext(context.Background(), t, dt, sim)
}

// UpdateThreatContext is UpdateThreat with a parent context for tracing.
func (c *Composer) UpdateThreatContext(ctx context.Context, t *Threat, dt float64, sim behavior.SimulationContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}

	t.updating.Store(true)
	defer func() {
		t.updating.Store(false)
		if t.destroyRequested.Load() {
			c.finishDestroy(t)
		}
	}()

	ctx, span := c.tracer.Start(ctx, "threatforge.update_threat",
		trace.WithAttributes(
			attribute.String("threat.id", t.id),
			attribute.Int("threat.components", len(t.components)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "tick panicked")
			c.logger.Error("Recovered from panic during tick",
				zap.String("threat_id", t.id),
				zap.Uint64("tick", t.tick),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	c.step(ctx, span, t, dt, sim)
}

// step runs one tick with t.mu held: behaviors, barrier, discovery,
// emergence, then governance.
func (c *Composer) step(ctx context.Context, span trace.Span, t *Threat, dt float64, sim behavior.SimulationContext) {
	start := c.clock.Now()
	t.tick++
	tick := t.tick
	quality := t.governor.Level()
	span.SetAttributes(
		attribute.Int64("threat.tick", int64(tick)),
		attribute.String("threat.quality", quality.String()),
	)

	run := c.runner.Run(behavior.Input{
		ThreatID:   t.id,
		Tick:       tick,
		DeltaTime:  dt,
		Components: t.components,
		Behaviors:  t.behaviors,
		Gate:       t.governor,
		Sim:        sim,
	})
	for _, f := range run.Faults {
		fault := f
		t.faults = append(t.faults, fault)
		c.publish(domain.ThreatEvent{Type: domain.EventBehaviorFault, ThreatID: t.id, Tick: tick, Fault: &fault})
	}

	var disc interaction.Result
	discovered := t.governor.ShouldDiscover(tick)
	if discovered {
		disc = t.discovery.Discover(interaction.Input{
			ThreatID:   t.id,
			Tick:       tick,
			Components: t.components,
			Budget:     t.governor.InteractionBudget(),
			Triggers:   run.Triggers,
			Potentials: run.Potential,
		})
		t.discoveryRuns++
		for _, inc := range disc.Inconsistencies {
			c.publishInconsistency(t, inc)
		}
	}

	stale, issues := t.catalog.CheckConsistency(t.id, tick, t.components)
	for _, inc := range issues {
		c.publishInconsistency(t, inc)
	}
	for _, d := range stale {
		c.publishDeactivation(t, d)
	}

	em := t.catalog.Process(emergence.Input{
		ThreatID:     t.id,
		Tick:         tick,
		Components:   t.components,
		Interactions: t.discovery.Interactions(),
		Rand:         sim.Rand,
	})
	for _, d := range em.Deactivated {
		c.publishDeactivation(t, d)
	}
	for i := range em.Activated {
		b := em.Activated[i]
		c.publish(domain.ThreatEvent{Type: domain.EventEmergentBehaviorActivated, ThreatID: t.id, Tick: tick, Emergent: &b})
	}

	cost := c.clock.Since(start)
	obs := t.governor.Observe(t.id, tick, cost)
	if obs.OverBudget != nil {
		c.publish(domain.ThreatEvent{Type: domain.EventPerformanceBudgetExceeded, ThreatID: t.id, Tick: tick, Budget: obs.OverBudget})
	}
	if obs.Change != nil {
		t.setComponentQuality(obs.Change.To)
		c.publish(domain.ThreatEvent{Type: domain.EventQualityLevelChanged, ThreatID: t.id, Tick: tick, Quality: obs.Change})
		c.logger.Info("Threat quality changed",
			zap.String("threat_id", t.id),
			zap.Uint64("tick", tick),
			zap.Stringer("from", obs.Change.From),
			zap.Stringer("to", obs.Change.To),
			zap.String("reason", obs.Change.Reason),
		)
	}

	t.perf.BehaviorsRun = run.Ran
	t.perf.BehaviorsSkipped = run.Skipped
	t.perf.BehaviorsFaulted = run.Faulted
	t.perf.BehaviorsActive = run.Active
	t.perf.EmergentPotential = run.TotalPotential()
	if discovered {
		t.perf.PairsEvaluated = disc.PairsEvaluated
		t.perf.PairsDeferred = disc.PairsDeferred
	}

	span.SetAttributes(
		attribute.Int("behaviors.ran", run.Ran),
		attribute.Int("behaviors.faulted", run.Faulted),
		attribute.Int("emergent.activated", len(em.Activated)),
		attribute.Int("emergent.active", t.catalog.Len()),
	)
	if run.Faulted > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d behavior faults", run.Faulted))
	}

	c.metrics.record(ctx, tickStats{
		durationMs:  float64(cost) / float64(time.Millisecond),
		quality:     quality,
		activations: len(em.Activated),
		faults:      run.Faulted,
		evaluated:   disc.PairsEvaluated,
		deferred:    disc.PairsDeferred,
	})
}

func (c *Composer) publishInconsistency(t *Threat, inc domain.InteractionCacheInconsistency) {
	issue := inc
	c.publish(domain.ThreatEvent{
		Type:          domain.EventInteractionCacheInconsistency,
		ThreatID:      t.id,
		Tick:          t.tick,
		Inconsistency: &issue,
	})
}
