package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yairfalse/threatforge/internal/output"
	"github.com/yairfalse/threatforge/pkg/composer"
	"github.com/yairfalse/threatforge/pkg/config"
	"github.com/yairfalse/threatforge/pkg/domain"
	"github.com/yairfalse/threatforge/pkg/events"
	"github.com/yairfalse/threatforge/pkg/intelligence/behavior"
	"github.com/yairfalse/threatforge/pkg/intelligence/performance"
	"github.com/yairfalse/threatforge/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	scenario string
	ticks    int
	dt       float64
	seed     uint64
	threats  int
	parallel int
	output   string
	tickCost time.Duration
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compose threats from a scenario and tick them",
		Long: `Run composes every threat in the scenario, ticks them in parallel for the
requested number of ticks and prints the final snapshots as JSON.

Events go to the log, to Prometheus (--metrics-addr) and to NATS when
nats.enabled is set or --nats-url is given.`,
		Example: `  threatforge run --ticks 600 --seed 42
  threatforge run --catalog ./catalogs --scenario swarm.yaml --threats 4
  threatforge run --metrics-addr :9464 --nats-url nats://localhost:4222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.scenario, "scenario", "", "scenario file (yaml or json); built-in scenario when empty")
	flags.IntVar(&opts.ticks, "ticks", DefaultTicks, "number of ticks to run")
	flags.Float64Var(&opts.dt, "dt", DefaultDeltaTime, "simulated seconds per tick")
	flags.Uint64Var(&opts.seed, "seed", DefaultSeed, "random seed; equal seeds replay identically when --tick-cost is set or the tick budget is 0")
	flags.DurationVar(&opts.tickCost, "tick-cost", 0, "charge every tick this fixed cost instead of measured wall time")
	flags.IntVar(&opts.threats, "threats", 1, "multiplier applied to every scenario threat count")
	flags.IntVar(&opts.parallel, "parallel", 0, "threats ticked at once (0 = GOMAXPROCS)")
	flags.StringVarP(&opts.output, "output", "o", output.FormatJSON, "report format: json, yaml or human")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("nats-url", "", "publish events to this NATS server")
	return cmd
}

func runScenario(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	if opts.ticks < 0 {
		return fmt.Errorf("--ticks must be non-negative")
	}
	if opts.dt <= 0 {
		return fmt.Errorf("--dt must be positive")
	}
	if opts.tickCost < 0 {
		return fmt.Errorf("--tick-cost must be non-negative")
	}
	formatter, err := output.NewFormatter(opts.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cfg, err := root.loadConfig(cmd, map[string]string{
		"telemetry.metrics_addr": "metrics-addr",
		"nats.url":               "nats-url",
	})
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("nats-url") {
		cfg.NATS.Enabled = true
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	scenario := DefaultScenario()
	if opts.scenario != "" {
		if scenario, err = LoadScenario(opts.scenario); err != nil {
			return err
		}
	}

	catalogs, err := loadCatalogs(logger, cfg.Catalog)
	if err != nil {
		return err
	}

	exporter, err := metrics.NewExporter(nil)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	fanout, cleanup, err := buildSinks(cfg, logger, exporter)
	if err != nil {
		return err
	}
	defer cleanup()

	// Ticks publish into a buffered channel; one goroutine fans events out
	// so a slow broker never stalls a tick.
	channel := events.NewChannelSink(events.DefaultChannelBuffer, logger)
	stream := channel.Events()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range stream {
			fanout.Publish(ev)
		}
	}()

	composerOpts := []composer.Option{
		composer.WithConfig(cfg),
		composer.WithSink(channel),
		composer.WithCompatibility(catalogs.compat),
	}
	if cmd.Flags().Changed("tick-cost") {
		composerOpts = append(composerOpts, composer.WithClock(performance.FixedCostClock(opts.tickCost)))
	}

	comp, err := composer.New(logger, catalogs.registry, composerOpts...)
	if err != nil {
		channel.Close()
		<-drained
		return err
	}

	threats, err := composeScenario(comp, scenario, opts.threats)
	if err != nil {
		channel.Close()
		<-drained
		return err
	}

	stopServer := serveMetrics(cfg.Telemetry.MetricsAddr, exporter, logger)
	defer stopServer()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting run",
		zap.String("scenario", scenario.Name),
		zap.Int("threats", len(threats)),
		zap.Int("ticks", opts.ticks),
		zap.Uint64("seed", opts.seed),
		zap.Duration("tick_cost", opts.tickCost),
		zap.String("quality", comp.Profile().Level().String()),
	)

	ran, runErr := tickAll(ctx, comp, threats, scenario, exporter, opts)

	report := output.RunReport{
		Scenario:    scenario.Name,
		Seed:        opts.seed,
		Ticks:       ran,
		Interrupted: errors.Is(runErr, context.Canceled),
		Threats:     make([]domain.ThreatSnapshot, 0, len(threats)),
	}
	for _, t := range threats {
		report.Threats = append(report.Threats, t.Snapshot())
	}
	for _, t := range threats {
		comp.Destroy(t)
	}

	channel.Close()
	<-drained
	report.EventsSent = channel.Sent()
	report.EventsDropped = channel.Dropped()

	logger.Info("Run finished",
		zap.Int("ticks", ran),
		zap.Int64("events_sent", report.EventsSent),
		zap.Int64("events_dropped", report.EventsDropped),
	)

	if runErr != nil && !report.Interrupted {
		return runErr
	}

	return formatter.PrintReport(&report)
}

// buildSinks assembles the configured event destinations. The returned
// cleanup releases broker connections.
func buildSinks(cfg *config.Config, logger *zap.Logger, exporter *metrics.Exporter) (events.Sink, func(), error) {
	logSink, err := events.NewLogSink(logger)
	if err != nil {
		return nil, nil, err
	}
	sinks := []events.Sink{logSink, exporter}
	cleanup := func() {}

	if cfg.Telemetry.OTel {
		otelSink, err := events.NewOTelSink(otel.GetMeterProvider(), logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, otelSink)
	}

	if cfg.NATS.Enabled {
		conn, err := events.ConnectNATS(cfg.NATS.Options(), logger)
		if err != nil {
			return nil, nil, err
		}
		natsSink, err := events.NewNATSSink(conn, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		sinks = append(sinks, natsSink)
		cleanup = func() {
			if err := conn.Drain(); err != nil {
				logger.Warn("Failed to drain NATS connection", zap.Error(err))
				conn.Close()
			}
		}
	}

	return events.Multi(sinks...), cleanup, nil
}

// composeScenario builds every threat the scenario describes. Threat ids
// are derived from template names so runs are comparable.
func composeScenario(comp *composer.Composer, scenario *Scenario, multiplier int) ([]*composer.Threat, error) {
	var threats []*composer.Threat
	for i, tpl := range scenario.Expand(multiplier) {
		name := tpl.Name
		if name == "" {
			name = "threat"
		}
		threatOpts := []composer.ThreatOption{composer.WithThreatID(fmt.Sprintf("%s-%d", name, i))}
		if tpl.Quality != "" {
			level, err := domain.ParseQualityLevel(tpl.Quality)
			if err != nil {
				return nil, err
			}
			threatOpts = append(threatOpts, composer.WithQuality(level))
		}

		t, err := comp.ComposeThreat(tpl.Components, threatOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to compose %s: %w", name, err)
		}
		threats = append(threats, t)
	}
	return threats, nil
}

// tickAll advances every threat opts.ticks times. Each tick fans out across
// threats; every threat sees the others as they were before the tick. It
// returns the number of ticks completed.
func tickAll(ctx context.Context, comp *composer.Composer, threats []*composer.Threat, scenario *Scenario, exporter *metrics.Exporter, opts *runOptions) (int, error) {
	rngs := make([]*rand.Rand, len(threats))
	for i := range threats {
		rngs[i] = rand.New(rand.NewPCG(opts.seed, uint64(i)))
	}

	limit := opts.parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	for tick := 0; tick < opts.ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return tick, err
		}

		snapshots := make([]domain.ThreatSnapshot, len(threats))
		for i, t := range threats {
			snapshots[i] = t.Snapshot()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, t := range threats {
			sim := behavior.SimulationContext{
				Rand:        rngs[i],
				Nearby:      nearby(snapshots, i),
				Environment: scenario.Lookup,
			}
			g.Go(func() error {
				comp.UpdateThreatContext(gctx, t, opts.dt, sim)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return tick, err
		}

		for _, t := range threats {
			exporter.Observe(t.Snapshot())
		}
	}
	return opts.ticks, nil
}

func nearby(snapshots []domain.ThreatSnapshot, self int) []domain.ThreatSnapshot {
	if len(snapshots) < 2 {
		return nil
	}
	out := make([]domain.ThreatSnapshot, 0, len(snapshots)-1)
	for i, s := range snapshots {
		if i != self {
			out = append(out, s)
		}
	}
	return out
}

// serveMetrics starts the Prometheus endpoint when addr is set and returns
// a function that shuts it down.
func serveMetrics(addr string, exporter *metrics.Exporter, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
}
