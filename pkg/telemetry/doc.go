// Package telemetry provides observability instrumentation for racksync.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring batch runs and remote API traffic.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "racksync"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server (non-blocking)
//	tel.StartMetricsServer(nil)
//
//	// Add telemetry to context
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithBatchID("batch-123").WithResourceType("dcim.device")
//	logger.Info("Converging record")
//	logger.WithError(err).Error("Convergence failed")
//
// Engine constructors take a plain zerolog.Logger; use Zerolog to unwrap:
//
//	orch := engine.NewOrchestrator(proxy, tel.Logger.Zerolog())
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into batch flow and remote call latency:
//
//	ctx, span := tel.Tracer.StartBatchSpan(ctx, batchID, "continue", false)
//	defer span.End()
//
//	ctx, span := tel.Tracer.StartRemoteSpan(ctx, "create", "dcim.device")
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track batch and remote behavior:
//
//	tel.Metrics.RecordRunStarted("continue")
//	tel.Metrics.RecordRunCompleted("succeeded", duration)
//	tel.Metrics.RecordSyncAction("dcim.device", "created", duration)
//	tel.Metrics.RecordRemoteCall("list", "dcim.site", duration)
//	tel.Metrics.RecordCacheLookup(true)
//	tel.Metrics.RecordError("remote", "CONFLICT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishRunStarted(batchID, mode)
//	tel.Events.PublishRecordConverged(batchID, "dcim.device", "sw-fra1-01", "created")
//	tel.Events.PublishDriftDetected("dcim.device", "sw-fra1-01", fields)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByBatchID,
// FilterByResourceType
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Batch context
//	ctx = telemetry.WithBatchContext(ctx, batchID, mode, dryRun)
//	defer telemetry.EndBatchContext(ctx, batchID, status, err)
//
//	// Record context
//	ctx = telemetry.WithRecordContext(ctx, batchID, resourceType, name)
//	defer telemetry.EndRecordContext(ctx, batchID, resourceType, name, action, err)
//
//	// Remote call
//	err := telemetry.RecordRemoteOperation(ctx, "create", "dcim.device", func() error {
//	    return client.Create(ctx, path, payload)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - racksync_runs_started_total{mode}
//   - racksync_runs_completed_total{status}
//   - racksync_run_duration_seconds{status}
//   - racksync_records_processed_total{resource_type,action}
//   - racksync_record_duration_seconds{resource_type,action}
//   - racksync_remote_calls_total{operation,resource_type}
//   - racksync_remote_call_duration_seconds{operation}
//   - racksync_remote_errors_total{operation,code}
//   - racksync_cache_lookups_total{result}
//   - racksync_policy_decisions_total{decision}
//   - racksync_writes_refused_total{reason}
//   - racksync_errors_by_class_total{class}
//   - racksync_active_jobs
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures all buffered events are published and all pending traces
// are exported.
package telemetry
