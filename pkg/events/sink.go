package events

import (
	"sync"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// Sink receives the composer's event stream. Publish is called on the tick
// goroutine and must not block for long.
type Sink interface {
	Publish(ev domain.ThreatEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev domain.ThreatEvent)

func (f SinkFunc) Publish(ev domain.ThreatEvent) { f(ev) }

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(domain.ThreatEvent) {}

type multiSink []Sink

func (m multiSink) Publish(ev domain.ThreatEvent) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if nested, ok := s.(multiSink); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, s)
	}
	switch len(out) {
	case 0:
		return Discard{}
	case 1:
		return out[0]
	}
	return out
}

// Recorder keeps every event in memory. Hosts use it for replays and
// tests use it for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []domain.ThreatEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ev domain.ThreatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.ThreatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ThreatEvent(nil), r.events...)
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(t domain.ThreatEventType) []domain.ThreatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ThreatEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
