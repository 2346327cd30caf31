package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes pending spans and writes the metrics textfile if one is
// configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Metrics.WriteTextfile(t.Config.Metrics.TextfilePath); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for run timers.
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry. The
// logger in ctx gains the run ID even when no telemetry is attached.
func WithRunContext(ctx context.Context, runID string) context.Context {
	ctx = FromContext(ctx).WithRunID(runID).WithContext(ctx)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)

	tel.Metrics.RecordRunStarted()

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())

	return spanCtx
}

// EndRunContext completes the run context, recording its span and metrics.
func EndRunContext(ctx context.Context, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		tel.Metrics.RecordRunCompleted(status, timer.Duration())
	}
}

// StepSpan tracks a single pipeline step.
type StepSpan struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	step    string
	metrics *Metrics
}

// StartStep begins an instrumented pipeline step. It works without telemetry
// in the context, in which case only the logger and timer are populated.
func StartStep(ctx context.Context, step string, index, total int) *StepSpan {
	tel := FromTelemetryContext(ctx)
	logger := FromContext(ctx).WithStep(step)
	if tel == nil {
		return &StepSpan{Ctx: logger.WithContext(ctx), Logger: logger, Timer: NewTimer(), step: step}
	}

	spanCtx, span := tel.Tracer.StartStepSpan(ctx, step, index, total)
	if id := TraceID(spanCtx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	return &StepSpan{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		Timer:   NewTimer(),
		step:    step,
		metrics: tel.Metrics,
	}
}

// End finishes the step with the given status (succeeded, failed, skipped).
func (s *StepSpan) End(status string, err error) {
	s.metrics.RecordStep(s.step, status, s.Timer.Duration())
	if s.Span == nil {
		return
	}
	s.Span.SetAttributes(attribute.String("step.status", status))
	if err != nil {
		RecordError(s.Span, err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
}

// StartArtifactSpan starts a span for an artifact lookup. Without telemetry
// in ctx the span is a no-op.
func StartArtifactSpan(ctx context.Context, name, url string) (context.Context, trace.Span) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, noop.Span{}
	}
	return tel.Tracer.StartArtifactSpan(ctx, name, url)
}
