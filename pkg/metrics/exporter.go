// Package metrics exports threat snapshots and events as Prometheus series.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yairfalse/threatforge/pkg/domain"
)

// Exporter exposes per-threat simulation state to Prometheus. Gauges are
// refreshed from snapshots with Observe; counters are driven by the event
// stream through Publish, so an Exporter can be handed to the composer as
// an event sink.
type Exporter struct {
	registry *prometheus.Registry

	mu      sync.Mutex
	threats map[string]struct{}

	quality         *prometheus.GaugeVec
	activeEmergent  *prometheus.GaugeVec
	components      *prometheus.GaugeVec
	pairsDeferred   *prometheus.GaugeVec
	tickCost        *prometheus.GaugeVec
	potential       *prometheus.GaugeVec
	cacheHits       *prometheus.GaugeVec
	faults          *prometheus.CounterVec
	activations     *prometheus.CounterVec
	deactivations   *prometheus.CounterVec
	qualityChanges  *prometheus.CounterVec
	overBudget      *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
}

// NewExporter creates an exporter registering on registry, or on a fresh
// registry when nil.
func NewExporter(registry *prometheus.Registry) (*Exporter, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{
		registry: registry,
		threats:  make(map[string]struct{}),

		quality: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_quality_level",
				Help: "Current quality level per threat (0=minimal .. 4=ultra)",
			},
			[]string{"threat"},
		),
		activeEmergent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_emergent_behaviors_active",
				Help: "Active emergent behaviors per threat",
			},
			[]string{"threat"},
		),
		components: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_components",
				Help: "Components per threat",
			},
			[]string{"threat"},
		),
		pairsDeferred: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_pairs_deferred",
				Help: "Component pairs deferred by the interaction budget on the last discovery pass",
			},
			[]string{"threat"},
		),
		tickCost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_tick_cost_seconds",
				Help: "Cost of the last tick per threat",
			},
			[]string{"threat"},
		),
		potential: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_emergent_potential",
				Help: "Summed behavior emergent potential on the last tick",
			},
			[]string{"threat"},
		),
		cacheHits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: Namespace + "_interaction_cache_hit_ratio",
				Help: "Interaction cache hit ratio per threat",
			},
			[]string{"threat"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_behavior_faults_total",
				Help: "Behavior faults by threat and behavior kind",
			},
			[]string{"threat", "behavior"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_emergent_activations_total",
				Help: "Emergent behavior activations by interaction kind",
			},
			[]string{"kind", "novel"},
		),
		deactivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_emergent_deactivations_total",
				Help: "Emergent behavior deactivations by reason",
			},
			[]string{"reason"},
		),
		qualityChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_quality_changes_total",
				Help: "Quality level transitions by direction",
			},
			[]string{"direction"},
		),
		overBudget: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_ticks_over_budget_total",
				Help: "Ticks whose cost exceeded the budget",
			},
			[]string{"threat"},
		),
		inconsistencies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: Namespace + "_cache_inconsistencies_total",
				Help: "Stale derived entries purged, by source",
			},
			[]string{"source"},
		),
	}

	for _, c := range []prometheus.Collector{
		e.quality, e.activeEmergent, e.components, e.pairsDeferred, e.tickCost,
		e.potential, e.cacheHits, e.faults, e.activations, e.deactivations,
		e.qualityChanges, e.overBudget, e.inconsistencies,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Registry returns the registry the exporter writes to.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Observe refreshes the per-threat gauges from a snapshot.
func (e *Exporter) Observe(snap domain.ThreatSnapshot) {
	e.mu.Lock()
	e.threats[snap.ID] = struct{}{}
	e.mu.Unlock()

	perf := snap.Performance
	e.quality.WithLabelValues(snap.ID).Set(float64(snap.Quality))
	e.activeEmergent.WithLabelValues(snap.ID).Set(float64(len(snap.EmergentBehaviors)))
	e.components.WithLabelValues(snap.ID).Set(float64(len(snap.Components)))
	e.pairsDeferred.WithLabelValues(snap.ID).Set(float64(perf.PairsDeferred))
	e.tickCost.WithLabelValues(snap.ID).Set(perf.LastTickCost.Seconds())
	e.potential.WithLabelValues(snap.ID).Set(perf.EmergentPotential)

	ratio := 0.0
	if total := perf.CacheHits + perf.CacheMisses; total > 0 {
		ratio = float64(perf.CacheHits) / float64(total)
	}
	e.cacheHits.WithLabelValues(snap.ID).Set(ratio)
}

// Publish counts one event.
func (e *Exporter) Publish(ev domain.ThreatEvent) {
	switch ev.Type {
	case domain.EventBehaviorFault:
		kind := ""
		if ev.Fault != nil {
			kind = ev.Fault.BehaviorKind
		}
		e.faults.WithLabelValues(ev.ThreatID, kind).Inc()
	case domain.EventEmergentBehaviorActivated:
		if ev.Emergent != nil {
			novel := "false"
			if ev.Emergent.Novel {
				novel = "true"
			}
			e.activations.WithLabelValues(string(ev.Emergent.Kind), novel).Inc()
		}
	case domain.EventEmergentBehaviorDeactivated:
		e.deactivations.WithLabelValues(ev.Reason).Inc()
	case domain.EventQualityLevelChanged:
		if ev.Quality != nil {
			direction := "promote"
			if ev.Quality.To < ev.Quality.From {
				direction = "demote"
			}
			e.qualityChanges.WithLabelValues(direction).Inc()
		}
	case domain.EventPerformanceBudgetExceeded:
		e.overBudget.WithLabelValues(ev.ThreatID).Inc()
	case domain.EventInteractionCacheInconsistency:
		source := ""
		if ev.Inconsistency != nil {
			source = ev.Inconsistency.Source
		}
		e.inconsistencies.WithLabelValues(source).Inc()
	}
}

// Forget drops every series labelled with a destroyed threat.
func (e *Exporter) Forget(threatID string) {
	e.mu.Lock()
	delete(e.threats, threatID)
	e.mu.Unlock()

	labels := prometheus.Labels{"threat": threatID}
	for _, g := range []*prometheus.GaugeVec{
		e.quality, e.activeEmergent, e.components, e.pairsDeferred,
		e.tickCost, e.potential, e.cacheHits,
	} {
		g.Delete(labels)
	}
	e.overBudget.Delete(labels)
	e.faults.DeletePartialMatch(labels)
}

// Threats returns the number of threats currently exported.
func (e *Exporter) Threats() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.threats)
}
