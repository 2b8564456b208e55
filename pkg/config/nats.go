package config

import (
	"time"

	"github.com/yairfalse/threatforge/pkg/events"
)

// NATSConfig holds the event broker settings. Publishing is off unless
// Enabled is set.
type NATSConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	URL               string        `mapstructure:"url" yaml:"url"`
	Name              string        `mapstructure:"name" yaml:"name"`
	SubjectPrefix     string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	MaxReconnects     int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait     time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
}

// DefaultNATSConfig returns the broker defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               DefaultNATSURL,
		Name:              events.DefaultClientName,
		SubjectPrefix:     events.DefaultSubjectPrefix,
		MaxReconnects:     10,
		ReconnectWait:     time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// Options converts the section for events.ConnectNATS.
func (c NATSConfig) Options() events.NATSOptions {
	return events.NATSOptions{
		URL:               c.URL,
		Name:              c.Name,
		SubjectPrefix:     c.SubjectPrefix,
		MaxReconnects:     c.MaxReconnects,
		ReconnectWait:     c.ReconnectWait,
		ConnectionTimeout: c.ConnectionTimeout,
	}
}

func (c NATSConfig) validate() []ValidationError {
	if !c.Enabled {
		return nil
	}
	var errs []ValidationError
	if c.URL == "" {
		errs = append(errs, NewValidationError("nats.url",
			"URL is required when NATS is enabled",
			"set nats.url or THREATFORGE_NATS_URL, e.g. "+DefaultNATSURL))
	}
	if c.MaxReconnects < -1 {
		errs = append(errs, NewValidationError("nats.max_reconnects",
			"must be -1 (unlimited) or non-negative",
			"use -1 to reconnect forever"))
	}
	if c.ReconnectWait < 0 || c.ConnectionTimeout < 0 {
		errs = append(errs, NewValidationError("nats.reconnect_wait",
			"durations must be non-negative",
			"use values like 1s or 500ms"))
	}
	return errs
}
