// Package telemetry provides observability instrumentation for pioide.
//
// The package integrates structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) for provisioning runs.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the run context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Runs and steps
//
// The engine wraps each run and each pipeline step:
//
//	ctx = telemetry.WithRunContext(ctx, runID)
//	defer telemetry.EndRunContext(ctx, status, err)
//
//	s := telemetry.StartStep(ctx, "install-platformio", 2, 8)
//	err := step.Run(s.Ctx)
//	s.End("succeeded", err)
//
// # Metrics
//
// pioide exits after each run, so metrics are not served over HTTP. When
// MetricsConfig.TextfilePath is set, Shutdown writes the registry in the
// Prometheus text format for a node exporter textfile collector.
//
// # Tracing
//
// Supported exporters are otlp (gRPC), stdout (pretty-printed to stderr) and
// none.
package telemetry
