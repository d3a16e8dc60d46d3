package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/loadguard/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	// ServiceVersion is the version of the service.
	ServiceVersion string `yaml:"service_version" mapstructure:"service_version"`
	// Environment is the deployment environment (dev, staging, prod).
	Environment string `yaml:"environment" mapstructure:"environment"`
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// Insecure allows insecure connections (for development).
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
	// Interval is the metric export interval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Attribute keys used on guard instruments.
const (
	AttrBackend   = "backend"
	AttrOperation = "operation"
	AttrPriority  = "priority"
	AttrOutcome   = "outcome"
	AttrState     = "state"
)

// GuardMetrics holds the instruments recorded by a resilience layer.
// All methods are no-ops on a nil receiver.
type GuardMetrics struct {
	executions    metric.Int64Counter
	duration      metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
	retries       metric.Int64Counter
	queued        metric.Int64Counter
	queueRejected metric.Int64Counter
	expired       metric.Int64Counter
	throttleWait  metric.Float64Histogram
	transitions   metric.Int64Counter
}

// NewGuardMetrics creates the guard instruments on the given meter.
func NewGuardMetrics(meter metric.Meter) (*GuardMetrics, error) {
	executions, err := meter.Int64Counter("loadguard.executions",
		metric.WithDescription("Completed executions by outcome class"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.executions counter: %w", err)
	}

	duration, err := meter.Float64Histogram("loadguard.execution.duration",
		metric.WithDescription("End-to-end execution time including queueing and retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.execution.duration histogram: %w", err)
	}

	inFlight, err := meter.Int64UpDownCounter("loadguard.in_flight",
		metric.WithDescription("Operations currently holding a concurrency permit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.in_flight gauge: %w", err)
	}

	retries, err := meter.Int64Counter("loadguard.retries",
		metric.WithDescription("Retries scheduled after a retryable failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.retries counter: %w", err)
	}

	queued, err := meter.Int64Counter("loadguard.queue.enqueued",
		metric.WithDescription("Requests parked while the circuit was not admitting"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.queue.enqueued counter: %w", err)
	}

	queueRejected, err := meter.Int64Counter("loadguard.queue.rejected",
		metric.WithDescription("Requests rejected by a full priority level"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.queue.rejected counter: %w", err)
	}

	expired, err := meter.Int64Counter("loadguard.queue.expired",
		metric.WithDescription("Queued requests failed for exceeding the maximum age"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.queue.expired counter: %w", err)
	}

	throttleWait, err := meter.Float64Histogram("loadguard.throttle.wait",
		metric.WithDescription("Time spent waiting for a rate limit token"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.throttle.wait histogram: %w", err)
	}

	transitions, err := meter.Int64Counter("loadguard.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions by target state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating loadguard.circuit.transitions counter: %w", err)
	}

	return &GuardMetrics{
		executions:    executions,
		duration:      duration,
		inFlight:      inFlight,
		retries:       retries,
		queued:        queued,
		queueRejected: queueRejected,
		expired:       expired,
		throttleWait:  throttleWait,
		transitions:   transitions,
	}, nil
}

// RecordExecution records a finished execution and its total duration.
func (m *GuardMetrics) RecordExecution(ctx context.Context, backend, operation, priority, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrPriority, priority),
		attribute.String(AttrOutcome, outcome),
	))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, operation),
	))
}

// AddInFlight adjusts the in-flight gauge.
func (m *GuardMetrics) AddInFlight(ctx context.Context, backend string, delta int64) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, delta, metric.WithAttributes(attribute.String(AttrBackend, backend)))
}

// RecordRetry counts a scheduled retry.
func (m *GuardMetrics) RecordRetry(ctx context.Context, backend, operation string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, operation),
	))
}

// RecordQueued counts a request parked in the priority queue.
func (m *GuardMetrics) RecordQueued(ctx context.Context, backend, priority string) {
	if m == nil {
		return
	}
	m.queued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrPriority, priority),
	))
}

// RecordQueueRejected counts a request refused by a full priority level.
func (m *GuardMetrics) RecordQueueRejected(ctx context.Context, backend, priority string) {
	if m == nil {
		return
	}
	m.queueRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrPriority, priority),
	))
}

// RecordExpired counts queued requests dropped by age.
func (m *GuardMetrics) RecordExpired(ctx context.Context, backend string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrBackend, backend)))
}

// RecordThrottle records a wait for a rate limit token.
func (m *GuardMetrics) RecordThrottle(ctx context.Context, backend string, wait time.Duration) {
	if m == nil {
		return
	}
	m.throttleWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String(AttrBackend, backend)))
}

// RecordTransition counts a circuit breaker state change.
func (m *GuardMetrics) RecordTransition(ctx context.Context, backend, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrState, to),
	))
}
