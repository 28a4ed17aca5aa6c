package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
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

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
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

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization. The metrics server is
	// owned by the caller and keeps serving until the process exits.
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.Flush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer(errCh chan<- error) *http.Server {
	return t.Metrics.StartMetricsServer(errCh)
}

// Context helpers for common instrumentation patterns.

// InstrumentedContext bundles a context with its span, logger, and timer.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithBatchContext creates a context enriched with batch-run telemetry.
func WithBatchContext(ctx context.Context, batchID, mode string, dryRun bool) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartBatchSpan(ctx, batchID, mode, dryRun)

	logger := tel.Logger.WithBatchID(batchID).WithField("mode", mode)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(mode)
	_ = tel.Events.PublishRunStarted(batchID, mode)

	spanCtx = context.WithValue(spanCtx, batchSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, batchTimerKey{}, NewTimer())

	return spanCtx
}

// batchSpanKey is the context key for batch spans.
type batchSpanKey struct{}

// batchTimerKey is the context key for batch timers.
type batchTimerKey struct{}

// EndBatchContext completes the batch context, recording metrics and events.
func EndBatchContext(ctx context.Context, batchID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(batchSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(batchTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordRunCompleted(status, duration)

	if err != nil {
		_ = tel.Events.PublishRunFailed(batchID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(batchID, status, duration)
	}
}

// WithRecordContext creates a context enriched with per-record telemetry.
func WithRecordContext(ctx context.Context, batchID, resourceType, name string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRecordSpan(ctx, resourceType, name)

	logger := tel.Logger.
		WithBatchID(batchID).
		WithResourceType(resourceType).
		WithField("name", name)
	spanCtx = logger.WithContext(spanCtx)

	spanCtx = context.WithValue(spanCtx, recordSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, recordTimerKey{}, NewTimer())

	return spanCtx
}

// recordSpanKey is the context key for record spans.
type recordSpanKey struct{}

// recordTimerKey is the context key for record timers.
type recordTimerKey struct{}

// EndRecordContext completes the record context, recording metrics and events.
func EndRecordContext(ctx context.Context, batchID, resourceType, name, action string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(recordSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			span.SetAttributes(AttrAction.String(action))
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(recordTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	if err != nil {
		_ = tel.Events.PublishRecordFailed(batchID, resourceType, name, err.Error())
		return
	}

	tel.Metrics.RecordSyncAction(resourceType, action, duration)
	_ = tel.Events.PublishRecordConverged(batchID, resourceType, name, action)
}

// RecordRemoteOperation records a remote API call with metrics and tracing.
func RecordRemoteOperation(ctx context.Context, operation, resourceType string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		_, span = tel.Tracer.StartRemoteSpan(ctx, operation, resourceType)
		defer span.End()
	}

	timer := NewTimer()
	err := fn()

	if tel != nil {
		tel.Metrics.RecordRemoteCall(operation, resourceType, timer.Duration())
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
