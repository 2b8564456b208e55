package events

import (
	"fmt"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging to logger.
func NewLogSink(logger *zap.Logger) (*LogSink, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &LogSink{logger: logger.Named("events")}, nil
}

func (s *LogSink) Publish(ev domain.ThreatEvent) {
	fields := []zap.Field{
		zap.String("event_type", string(ev.Type)),
		zap.String("threat_id", ev.ThreatID),
		zap.Uint64("tick", ev.Tick),
	}

	switch {
	case ev.Emergent != nil:
		fields = append(fields,
			zap.String("emergent_id", ev.Emergent.ID),
			zap.String("kind", string(ev.Emergent.Kind)),
			zap.String("origin", ev.Emergent.Origin.String()),
			zap.Float64("score", ev.Emergent.Score),
			zap.Bool("novel", ev.Emergent.Novel),
		)
		if ev.Reason != "" {
			fields = append(fields, zap.String("reason", ev.Reason))
		}
	case ev.Fault != nil:
		fields = append(fields,
			zap.String("component_id", ev.Fault.ComponentID),
			zap.String("behavior", ev.Fault.BehaviorKind),
			zap.Bool("panicked", ev.Fault.Panicked),
			zap.String("message", ev.Fault.Message),
		)
	case ev.Quality != nil:
		fields = append(fields,
			zap.Stringer("from", ev.Quality.From),
			zap.Stringer("to", ev.Quality.To),
			zap.String("reason", ev.Quality.Reason),
		)
	case ev.Budget != nil:
		fields = append(fields,
			zap.Duration("cost", ev.Budget.Cost),
			zap.Duration("budget", ev.Budget.Budget),
			zap.Int("consecutive", ev.Budget.Consecutive),
		)
	case ev.Inconsistency != nil:
		fields = append(fields,
			zap.String("pair", ev.Inconsistency.Pair.String()),
			zap.String("missing_id", ev.Inconsistency.MissingID),
			zap.String("source", ev.Inconsistency.Source),
		)
	}

	if ce := s.logger.Check(levelFor(ev.Type), "Threat event"); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(t domain.ThreatEventType) zapcore.Level {
	switch t {
	case domain.EventBehaviorFault, domain.EventInteractionCacheInconsistency:
		return zapcore.WarnLevel
	case domain.EventPerformanceBudgetExceeded:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
