package composer

import (
	"context"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// instruments are the composer's OpenTelemetry metrics. Any may be nil when
// creation failed; recording then becomes a no-op.
type instruments struct {
	tickDuration   metric.Float64Histogram
	ticks          metric.Int64Counter
	activations    metric.Int64Counter
	faults         metric.Int64Counter
	pairsEvaluated metric.Int64Counter
	pairsDeferred  metric.Int64Counter
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	var ins instruments
	var err error

	ins.tickDuration, err = meter.Float64Histogram(
		"threatforge_tick_duration_ms",
		metric.WithDescription("Threat tick duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("Failed to create tick duration histogram", zap.Error(err))
	}

	ins.ticks, err = meter.Int64Counter(
		"threatforge_ticks_total",
		metric.WithDescription("Total threat ticks"),
	)
	if err != nil {
		logger.Warn("Failed to create ticks counter", zap.Error(err))
	}

	ins.activations, err = meter.Int64Counter(
		"threatforge_emergent_activations_total",
		metric.WithDescription("Total emergent behavior activations"),
	)
	if err != nil {
		logger.Warn("Failed to create activations counter", zap.Error(err))
	}

	ins.faults, err = meter.Int64Counter(
		"threatforge_behavior_faults_total",
		metric.WithDescription("Total behavior faults"),
	)
	if err != nil {
		logger.Warn("Failed to create faults counter", zap.Error(err))
	}

	ins.pairsEvaluated, err = meter.Int64Counter(
		"threatforge_pairs_evaluated_total",
		metric.WithDescription("Total component pairs scored by discovery"),
	)
	if err != nil {
		logger.Warn("Failed to create pairs evaluated counter", zap.Error(err))
	}

	ins.pairsDeferred, err = meter.Int64Counter(
		"threatforge_pairs_deferred_total",
		metric.WithDescription("Total component pairs deferred by the interaction budget"),
	)
	if err != nil {
		logger.Warn("Failed to create pairs deferred counter", zap.Error(err))
	}

	return ins
}

type tickStats struct {
	durationMs  float64
	quality     domain.QualityLevel
	activations int
	faults      int
	evaluated   int
	deferred    int
}

func (ins instruments) record(ctx context.Context, s tickStats) {
	attrs := metric.WithAttributes(attribute.String("quality", s.quality.String()))
	if ins.tickDuration != nil {
		ins.tickDuration.Record(ctx, s.durationMs, attrs)
	}
	if ins.ticks != nil {
		ins.ticks.Add(ctx, 1, attrs)
	}
	if ins.activations != nil && s.activations > 0 {
		ins.activations.Add(ctx, int64(s.activations))
	}
	if ins.faults != nil && s.faults > 0 {
		ins.faults.Add(ctx, int64(s.faults))
	}
	if ins.pairsEvaluated != nil && s.evaluated > 0 {
		ins.pairsEvaluated.Add(ctx, int64(s.evaluated))
	}
	if ins.pairsDeferred != nil && s.deferred > 0 {
		ins.pairsDeferred.Add(ctx, int64(s.deferred))
	}
}
