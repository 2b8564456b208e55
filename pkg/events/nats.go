package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/yairfalse/threatforge/pkg/domain"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSOptions configures the broker connection.
type NATSOptions struct {
	URL               string
	Name              string
	SubjectPrefix     string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
}

// ConnectNATS dials the broker with reconnect handling.
func ConnectNATS(opts NATSOptions, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	name := opts.Name
	if name == "" {
		name = DefaultClientName
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.ConnectionTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSSink publishes events as JSON on <prefix>.<event type>.
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewNATSSink creates a sink publishing through pub.
func NewNATSSink(pub Publisher, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t domain.ThreatEventType) string {
	return s.prefix + "." + string(t)
}

// Publish encodes and sends ev. Failures are logged and counted; they never
// reach the tick.
func (s *NATSSink) Publish(ev domain.ThreatEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to encode event", zap.String("event_type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(ev.Type), data); err != nil {
		s.failed.Add(1)
		s.logger.Warn("Failed to publish event",
			zap.String("subject", s.Subject(ev.Type)),
			zap.String("threat_id", ev.ThreatID),
			zap.Error(err),
		)
		return
	}
	s.published.Add(1)
}

// Published returns the number of events sent.
func (s *NATSSink) Published() int64 { return s.published.Load() }

// Failed returns the number of events that could not be sent.
func (s *NATSSink) Failed() int64 { return s.failed.Load() }
