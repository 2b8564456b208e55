package composer

import (
	"github.com/yairfalse/threatforge/pkg/config"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/events"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
	"github.com/yairfalse/threatforge/pkg/registry"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	cfg            *config.Config
	clock          performance.Clock
	sink           events.Sink
	compat         *registry.CompatibilityTable
	concurrency    int
	profile        *performance.Profile
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option configures a Composer.
type Option func(*options)

// WithConfig sets engine tunables. Defaults come from config.Default.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithClock sets the clock used to measure tick cost.
func WithClock(clock performance.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSink sets where events are published.
func WithSink(sink events.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithCompatibility sets the domain compatibility table.
func WithCompatibility(compat *registry.CompatibilityTable) Option {
	return func(o *options) { o.compat = compat }
}

// WithConcurrency bounds concurrent behavior groups within one threat,
// overriding engine.behavior_concurrency.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithProfile shares a process-wide quality profile. New threats start at
// its level.
func WithProfile(p *performance.Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

type threatOptions struct {
	id         string
	quality    domain.QualityLevel
	hasQuality bool
}

// ThreatOption configures one composed threat.
type ThreatOption func(*threatOptions)

// WithThreatID sets the threat id instead of deriving one.
func WithThreatID(id string) ThreatOption {
	return func(o *threatOptions) { o.id = id }
}

// WithQuality starts the threat at level instead of the profile's level.
func WithQuality(level domain.QualityLevel) ThreatOption {
	return func(o *threatOptions) {
		o.quality = level
		o.hasQuality = true
	}
}
