package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/threatforge/pkg/domain"
)

func snapshot(id string) domain.ThreatSnapshot {
	return domain.ThreatSnapshot{
		ID:         id,
		Tick:       12,
		Quality:    domain.QualityHigh,
		Components: make([]domain.ThreatComponent, 3),
		EmergentBehaviors: []domain.EmergentBehavior{
			{ID: "e1"}, {ID: "e2"},
		},
		Performance: domain.PerformanceMetrics{
			LastTickCost:      1500 * time.Microsecond,
			PairsDeferred:     4,
			CacheHits:         3,
			CacheMisses:       1,
			EmergentPotential: 1.25,
		},
	}
}

func TestObserveSnapshot(t *testing.T) {
	e, err := NewExporter(nil)
	require.NoError(t, err)

	e.Observe(snapshot("t1"))

	assert.Equal(t, float64(domain.QualityHigh), testutil.ToFloat64(e.quality.WithLabelValues("t1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.activeEmergent.WithLabelValues("t1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.components.WithLabelValues("t1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.pairsDeferred.WithLabelValues("t1")))
	assert.InDelta(t, 0.0015, testutil.ToFloat64(e.tickCost.WithLabelValues("t1")), 1e-12)
	assert.InDelta(t, 0.75, testutil.ToFloat64(e.cacheHits.WithLabelValues("t1")), 1e-12)
	assert.Equal(t, 1, e.Threats())
}

func TestPublishCounters(t *testing.T) {
	e, err := NewExporter(prometheus.NewRegistry())
	require.NoError(t, err)

	e.Publish(domain.ThreatEvent{Type: domain.EventBehaviorFault, ThreatID: "t1", Fault: &domain.BehaviorFault{BehaviorKind: "swarm"}})
	e.Publish(domain.ThreatEvent{Type: domain.EventBehaviorFault, ThreatID: "t1", Fault: &domain.BehaviorFault{BehaviorKind: "swarm"}})
	e.Publish(domain.ThreatEvent{Type: domain.EventEmergentBehaviorActivated, Emergent: &domain.EmergentBehavior{Kind: domain.InteractionSynergy, Novel: true}})
	e.Publish(domain.ThreatEvent{Type: domain.EventEmergentBehaviorDeactivated, Reason: "expired"})
	e.Publish(domain.ThreatEvent{Type: domain.EventQualityLevelChanged, Quality: &domain.QualityChange{From: domain.QualityHigh, To: domain.QualityBalanced}})
	e.Publish(domain.ThreatEvent{Type: domain.EventPerformanceBudgetExceeded, ThreatID: "t1"})
	e.Publish(domain.ThreatEvent{Type: domain.EventInteractionCacheInconsistency, Inconsistency: &domain.InteractionCacheInconsistency{Source: "interaction_cache"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(e.faults.WithLabelValues("t1", "swarm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.activations.WithLabelValues("SYNERGY", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.deactivations.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.qualityChanges.WithLabelValues("demote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.overBudget.WithLabelValues("t1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.inconsistencies.WithLabelValues("interaction_cache")))
}

func TestForget(t *testing.T) {
	e, err := NewExporter(nil)
	require.NoError(t, err)

	e.Observe(snapshot("t1"))
	e.Observe(snapshot("t2"))
	e.Publish(domain.ThreatEvent{Type: domain.EventBehaviorFault, ThreatID: "t1", Fault: &domain.BehaviorFault{BehaviorKind: "mutation"}})
	assert.Equal(t, 2, testutil.CollectAndCount(e.quality))

	e.Forget("t1")
	assert.Equal(t, 1, testutil.CollectAndCount(e.quality))
	assert.Equal(t, 0, testutil.CollectAndCount(e.faults))
	assert.Equal(t, 1, e.Threats())
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewExporter(reg)
	require.NoError(t, err)
	_, err = NewExporter(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	e, err := NewExporter(nil)
	require.NoError(t, err)
	e.Observe(snapshot("t1"))

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `threatforge_quality_level{threat="t1"} 3`))
}
