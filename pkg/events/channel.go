package events

import (
	"sync"
	"sync/atomic"

	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
)

// ChannelSink delivers events over a buffered channel. Sends never block:
// when the buffer is full the event is dropped and counted.
type ChannelSink struct {
	mu      sync.RWMutex
	channel chan domain.ThreatEvent
	closed  atomic.Bool
	dropped atomic.Int64
	sent    atomic.Int64
	logger  *zap.Logger
}

// NewChannelSink creates a sink with a buffer of size events.
func NewChannelSink(size int, logger *zap.Logger) *ChannelSink {
	if size < 1 {
		size = DefaultChannelBuffer
	}
	return &ChannelSink{
		channel: make(chan domain.ThreatEvent, size),
		logger:  logger,
	}
}

// Publish attempts a non-blocking send.
func (s *ChannelSink) Publish(ev domain.ThreatEvent) {
	s.TryPublish(ev)
}

// TryPublish sends ev and reports whether it was delivered.
func (s *ChannelSink) TryPublish(ev domain.ThreatEvent) bool {
	if s.closed.Load() {
		s.dropped.Add(1)
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Close may have won the race while we waited for the lock
	if s.closed.Load() || s.channel == nil {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.channel <- ev:
		s.sent.Add(1)
		return true
	default:
		s.dropped.Add(1)
		if s.logger != nil {
			s.logger.Debug("Event channel full, dropping event",
				zap.String("threat_id", ev.ThreatID),
				zap.String("event_type", string(ev.Type)),
				zap.Uint64("tick", ev.Tick),
			)
		}
		return false
	}
}

// Events returns the channel for reading. It is closed by Close.
func (s *ChannelSink) Events() <-chan domain.ThreatEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

// Close closes the channel. Safe to call more than once.
func (s *ChannelSink) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		close(s.channel)
		s.channel = nil
	}
}

// Dropped returns the number of events that could not be delivered.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Sent returns the number of delivered events.
func (s *ChannelSink) Sent() int64 {
	return s.sent.Load()
}

// Utilization returns the percentage of buffer capacity in use.
func (s *ChannelSink) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.channel == nil || cap(s.channel) == 0 {
		return 0
	}
	return float64(len(s.channel)) / float64(cap(s.channel)) * 100
}
