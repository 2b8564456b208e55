package events

import (
	"context"
	"fmt"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OTelSink counts events by type on an OpenTelemetry meter.
type OTelSink struct {
	events metric.Int64Counter
	scores metric.Float64Histogram
}

// NewOTelSink creates instruments on provider, or the global provider when
// nil.
func NewOTelSink(provider metric.MeterProvider, logger *zap.Logger) (*OTelSink, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("threatforge/events")

	events, err := meter.Int64Counter(
		"threatforge_events_total",
		metric.WithDescription("Total threat events published"),
	)
	if err != nil {
		logger.Warn("Failed to create events counter", zap.Error(err))
	}

	scores, err := meter.Float64Histogram(
		"threatforge_emergent_activation_score",
		metric.WithDescription("Activation score of emergent behaviors"),
	)
	if err != nil {
		logger.Warn("Failed to create activation score histogram", zap.Error(err))
	}

	return &OTelSink{events: events, scores: scores}, nil
}

func (s *OTelSink) Publish(ev domain.ThreatEvent) {
	ctx := context.Background()
	if s.events != nil {
		s.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(ev.Type)),
		))
	}
	if s.scores != nil && ev.Type == domain.EventEmergentBehaviorActivated && ev.Emergent != nil {
		s.scores.Record(ctx, ev.Emergent.Score, metric.WithAttributes(
			attribute.String("kind", string(ev.Emergent.Kind)),
		))
	}
}
