// Command loadguard drives a synthetic, flaky backend through a resilience
// layer and reports how the layer shaped the traffic.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kbukum/loadguard/bootstrap"
	"github.com/kbukum/loadguard/component"
	"github.com/kbukum/loadguard/config"
	"github.com/kbukum/loadguard/logger"
	"github.com/kbukum/loadguard/observability"
	"github.com/kbukum/loadguard/resilience"
	"github.com/kbukum/loadguard/version"
)

const serviceName = "loadguard"

type flags struct {
	configFile  string
	envFile     string
	tier        string
	preset      string
	requests    int
	workers     int
	failureRate float64
	outage      time.Duration
	telemetry   bool
	version     bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loadguard: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*pflag.FlagSet, flags, error) {
	var f flags
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVarP(&f.configFile, "config", "c", "", "config file (default: search cmd/loadguard, config/, .)")
	fs.StringVar(&f.envFile, "env-file", "", ".env file to load")
	fs.StringVar(&f.tier, "tier", string(resilience.TierMinimal), "backend capacity tier: minimal, standard, high, enterprise")
	fs.StringVar(&f.preset, "preset", "", "named preset, overrides --tier: default, interactive, batch, multi-tenant")
	fs.IntVarP(&f.requests, "requests", "n", 0, "number of requests to simulate")
	fs.IntVarP(&f.workers, "workers", "w", 0, "concurrent callers")
	fs.Float64Var(&f.failureRate, "failure-rate", 0, "share of backend calls that fail transiently")
	fs.DurationVar(&f.outage, "outage", 0, "length of the simulated full outage")
	fs.BoolVar(&f.telemetry, "telemetry", false, "export traces and metrics over OTLP")
	fs.BoolVarP(&f.version, "version", "v", false, "print the version and exit")
	err := fs.Parse(args)
	return fs, f, err
}

func basePreset(f flags) (resilience.Config, error) {
	if f.preset != "" {
		return resilience.PresetByName(f.preset)
	}
	tier, err := resilience.ParseCapacityTier(f.tier)
	if err != nil {
		return resilience.Config{}, err
	}
	return resilience.ConfigForTier(tier), nil
}

func loadConfig(fs *pflag.FlagSet, f flags) (Config, error) {
	preset, err := basePreset(f)
	if err != nil {
		return Config{}, err
	}

	cfg := defaultConfig(preset)
	opts := []config.LoaderOption{config.WithEnvPrefix("LOADGUARD")}
	if f.configFile != "" {
		opts = append(opts, config.WithConfigFile(f.configFile))
	}
	if f.envFile != "" {
		opts = append(opts, config.WithEnvFile(f.envFile))
	}
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return Config{}, err
	}

	if fs.Changed("requests") {
		cfg.Simulation.Requests = f.requests
	}
	if fs.Changed("workers") {
		cfg.Simulation.Workers = f.workers
	}
	if fs.Changed("failure-rate") {
		cfg.Simulation.FailureRate = f.failureRate
	}
	if fs.Changed("outage") {
		cfg.Simulation.Outage = f.outage
	}
	if fs.Changed("telemetry") {
		cfg.Telemetry.Enabled = f.telemetry
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Short()
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	fs, f, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.version {
		fmt.Println(serviceName, version.Get())
		return nil
	}
	cfg, err := loadConfig(fs, f)
	if err != nil {
		return err
	}

	app, err := bootstrap.NewApp(&cfg, bootstrap.WithGracefulTimeout(30*time.Second))
	if err != nil {
		return err
	}
	log := logger.WithComponent(serviceName)

	if cfg.Telemetry.Enabled {
		if err := app.Register(newTelemetry(cfg)); err != nil {
			return err
		}
	}
	layer, err := newLayer(cfg, log)
	if err != nil {
		return err
	}
	if err := app.Register(layer); err != nil {
		return err
	}

	return app.RunTask(context.Background(), func(ctx context.Context) error {
		b := newBackend(cfg.Simulation, uint64(time.Now().UnixNano()))
		r := simulate(ctx, layer, b, cfg.Simulation, log)

		m := layer.Metrics()
		log.Info("simulation finished", logger.Fields(
			"requests", r.Requests,
			"backend_calls", r.Calls,
			"backend_peak_concurrency", r.BackendPeak,
			"max_concurrent", cfg.Resilience.Concurrency.MaxConcurrent,
			"retries", m.Retries,
			"queued", m.Queued,
			"circuit_opens", m.CircuitBreaker.TotalOpens,
			"elapsed", r.Elapsed.Round(time.Millisecond).String(),
		))
		for class, n := range r.Outcomes {
			log.Info("outcome", logger.Fields("class", class, "count", n))
		}

		health := app.Components.HealthAll(ctx)
		log.Info("component health", logger.Fields("status", string(component.Overall(health))))
		return ctx.Err()
	})
}

// newLayer builds the resilience layer with logging hooks and otel instruments.
func newLayer(cfg Config, log *logger.Logger) (*resilience.Layer, error) {
	table, err := resilience.ParsePriorityTable(cfg.Priorities)
	if err != nil {
		return nil, err
	}

	// Instruments bind to the global meter provider, which telemetry may
	// install later during StartAll.
	metrics, err := observability.NewGuardMetrics(observability.Meter(serviceName))
	if err != nil {
		return nil, err
	}

	rc := cfg.Resilience
	rc.Hooks = resilience.Hooks{
		OnCircuitOpen: func(name string) {
			log.Warn("backend circuit opened", logger.Fields("backend", name))
		},
		OnCircuitClose: func(name string) {
			log.Info("backend recovered", logger.Fields("backend", name))
		},
		OnQueueFull: func(p resilience.Priority, size int) {
			log.Warn("dropping request, priority level full", logger.Fields(
				logger.FieldPriority, p.String(),
				logger.FieldQueueSize, size,
			))
		},
		OnMetrics: func(m resilience.Metrics) {
			log.Info("layer metrics", logger.Fields(
				logger.FieldState, m.CircuitBreaker.State,
				"active", m.Concurrency.Active,
				"waiting", m.Concurrency.Waiting,
				logger.FieldQueueSize, m.Queue.Size,
				"tokens", m.RateLimiter.Available,
			))
		},
		MetricsInterval: cfg.Simulation.ReportInterval,
	}

	return resilience.NewLayer(rc,
		resilience.WithPriorityTable(table),
		resilience.WithMetrics(metrics),
		resilience.WithLogger(logger.WithComponent("resilience")),
	)
}

// newTelemetry wraps the OTLP trace and metric providers as a component.
func newTelemetry(cfg Config) *component.LazyComponent {
	var shutdowns []func(context.Context) error

	return component.NewLazyComponent("telemetry", func(ctx context.Context) error {
		tc := observability.DefaultTracerConfig(cfg.Name)
		tc.ServiceVersion = cfg.Version
		tc.Environment = cfg.Environment
		tc.Endpoint = cfg.Telemetry.Endpoint
		tc.Insecure = cfg.Telemetry.Insecure
		tc.SampleRate = cfg.Telemetry.SampleRate
		tp, err := observability.InitTracer(ctx, &tc)
		if err != nil {
			return err
		}

		mc := observability.DefaultMeterConfig(cfg.Name)
		mc.ServiceVersion = cfg.Version
		mc.Environment = cfg.Environment
		mc.Endpoint = cfg.Telemetry.Endpoint
		mc.Insecure = cfg.Telemetry.Insecure
		mc.Interval = cfg.Telemetry.Interval
		mp, err := observability.InitMeter(ctx, &mc)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return err
		}

		shutdowns = []func(context.Context) error{mp.Shutdown, tp.Shutdown}
		return nil
	}).WithType("telemetry").WithCloser(func(ctx context.Context) error {
		var firstErr error
		for _, shutdown := range shutdowns {
			if err := shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}
