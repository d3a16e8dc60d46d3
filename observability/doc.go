// Package observability provides OpenTelemetry tracing and metrics for
// loadguard.
//
// Tracing:
//
//	cfg := observability.DefaultTracerConfig("loadguard")
//	tp, err := observability.InitTracer(ctx, &cfg)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanExecute)
//	defer span.End()
//
// Metrics:
//
//	cfg := observability.DefaultMeterConfig("loadguard")
//	mp, err := observability.InitMeter(ctx, &cfg)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewGuardMetrics(observability.Meter("loadguard"))
//	layer, err := resilience.NewLayer(cfg, resilience.WithMetrics(metrics))
package observability
