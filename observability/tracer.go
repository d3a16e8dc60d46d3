package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/loadguard/logger"
)

const tracerName = "github.com/kbukum/loadguard/observability"

// Span names.
const (
	SpanExecute = "loadguard.execute"
	SpanQueued  = "loadguard.queued"
)

// Span attribute keys.
const (
	AttrAttempts   = "loadguard.attempts"
	AttrErrorClass = "loadguard.error_class"
	AttrQueued     = "loadguard.queued"
)

// TracerConfig configures trace export over OTLP HTTP.
type TracerConfig struct {
	ServiceName    string `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string `yaml:"service_version" mapstructure:"service_version"`
	Environment    string `yaml:"environment" mapstructure:"environment"`
	// Endpoint is the collector host:port, e.g. "localhost:4318".
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
	// SampleRate is the share of traces kept, from 0 to 1.
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// DefaultTracerConfig returns a config that samples everything into a local
// collector.
func DefaultTracerConfig(serviceName string) TracerConfig {
	return TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// InitTracer installs a batching OTLP tracer provider as the global provider.
// The caller owns the returned provider and must shut it down.
func InitTracer(ctx context.Context, cfg *TracerConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracer initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"sample_rate", cfg.SampleRate,
	))
	return tp, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// newResource merges the service identity into the SDK default resource.
// Schemaless attributes merge under any semconv schema version.
func newResource(serviceName, serviceVersion, environment string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
			attribute.String("deployment.environment", environment),
		),
	)
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, name, opts...)
}

// StartGuardSpan starts a span for one guarded call, tagged with the backend,
// operation and priority it runs under.
func StartGuardSpan(ctx context.Context, name, backend, operation, priority string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrPriority, priority),
	))
}

// SpanFromContext returns the span in ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// MarkQueued notes on the current span that the call waited in the queue.
func MarkQueued(ctx context.Context) {
	if span := SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Bool(AttrQueued, true))
	}
}

// SetAttempts records how many attempts the call made.
func SetAttempts(ctx context.Context, attempts int) {
	if span := SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int(AttrAttempts, attempts))
	}
}

// RecordOutcome tags the current span with the error class of the call and,
// on failure, records the error and marks the span failed.
func RecordOutcome(ctx context.Context, class string, err error) {
	span := SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.String(AttrErrorClass, class))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanError records err on the current span.
func SetSpanError(ctx context.Context, err error) {
	if span := SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
	}
}
