package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/racksync/racksync/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "racksync"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	tel.StartMetricsServer(nil)

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("engine")

	// Batch and resource context
	logger = logger.WithBatchID("batch-123").WithResourceType("dcim.device")

	logger.Debug("Resolving record references")
	logger.Info("Record converged")
	logger.Warn("Configuration drift detected")

	err := fmt.Errorf("connection refused")
	logger.WithError(err).Error("Remote API unreachable")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Span covering an entire batch
	ctx, span := tel.Tracer.StartBatchSpan(ctx, "batch-789", "continue", false)
	defer span.End()

	// Nested span for one record
	ctx, recordSpan := tel.Tracer.StartRecordSpan(ctx, "dcim.device", "sw-fra1-01")
	defer recordSpan.End()

	recordSpan.SetAttributes(
		telemetry.AttrAction.String("created"),
	)

	time.Sleep(10 * time.Millisecond)

	telemetry.RecordSuccess(recordSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record batch metrics
	tel.Metrics.RecordRunStarted("continue")

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordRunCompleted("succeeded", duration)

	// Record per-record metrics
	tel.Metrics.RecordSyncAction("dcim.device", "created", 25*time.Millisecond)

	// Record remote API metrics
	tel.Metrics.RecordRemoteCall("list", "dcim.site", 15*time.Millisecond)
	tel.Metrics.RecordCacheLookup(true)

	// Record error metrics
	tel.Metrics.RecordError("remote", "CONFLICT")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.PublishRunStarted("batch-123", "continue")
	tel.Events.PublishRecordConverged("batch-123", "dcim.device", "sw-fra1-01", "created")
	tel.Events.PublishRunCompleted("batch-123", "succeeded", 25*time.Millisecond)

	// Output varies due to async delivery, no output specified
}

// Example_batchInstrumentation demonstrates instrumenting a complete batch run.
func Example_batchInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none" // keep span dumps off stdout
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	batchID := "batch-123"
	ctx = telemetry.WithBatchContext(ctx, batchID, "continue", false)

	convergeRecord(ctx, batchID)

	telemetry.EndBatchContext(ctx, batchID, "succeeded", nil)

	fmt.Println("Batch instrumentation complete")
	// Output: Batch instrumentation complete
}

func convergeRecord(ctx context.Context, batchID string) {
	resourceType := "dcim.device"
	name := "sw-fra1-01"

	ctx = telemetry.WithRecordContext(ctx, batchID, resourceType, name)

	logger := telemetry.FromContext(ctx)
	logger.Info("Converging record")

	time.Sleep(10 * time.Millisecond)

	telemetry.EndRecordContext(ctx, batchID, resourceType, name, "created", nil)
}

// Example_remoteInstrumentation demonstrates instrumenting remote API calls.
func Example_remoteInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none" // keep span dumps off stdout
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordRemoteOperation(ctx, "create", "dcim.device", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Remote operation completed successfully")
	}

	// Output: Remote operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none" // keep span dumps off stdout
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "manifest.validate",
		attribute.String("manifest.path", "/etc/racksync/inventory.yaml"),
	)
	defer ic.End(nil)

	ic.Logger.Info("Validating manifest")

	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Manifest validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only drift events)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Drift event: %s\n", event.Message)
	}, telemetry.FilterByType("drift.detected"))

	// Publish various events
	tel.Events.PublishRunStarted("batch-123", "continue")
	tel.Events.PublishDriftDetected("dcim.device", "sw-fra1-01", []string{"status"})
	tel.Events.PublishRunFailed("batch-123", "remote unreachable")

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	cfg.ServiceName = "racksync"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false

	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "racksync"

	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
