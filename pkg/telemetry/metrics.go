package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for racksync.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	// Batch run metrics.
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge

	// Per-record sync metrics.
	recordsProcessed *prometheus.CounterVec
	recordDuration   *prometheus.HistogramVec
	rollbacks        prometheus.Counter

	// Remote API metrics.
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	remoteErrors   *prometheus.CounterVec

	// Cache metrics.
	cacheLookups   *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheEvictions prometheus.Counter

	// Policy and safety metrics.
	policyDecisions *prometheus.CounterVec
	writesRefused   *prometheus.CounterVec
	breakerState    prometheus.Gauge

	// Error metrics.
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Audit metrics.
	auditWrites *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector. When metrics are disabled
// all recorder methods become no-ops.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "racksync"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,
	}

	m.runsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Total number of batch runs started.",
	}, []string{"mode"})

	m.runsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_completed_total",
		Help:      "Total number of batch runs completed, by final status.",
	}, []string{"status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Batch run duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"status"})

	m.activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_jobs",
		Help:      "Number of background sync jobs currently running.",
	})

	m.recordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_processed_total",
		Help:      "Total number of records processed, by resource type and action.",
	}, []string{"resource_type", "action"})

	m.recordDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "record_duration_seconds",
		Help:      "Per-record convergence duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"resource_type", "action"})

	m.rollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Total number of batch rollbacks performed.",
	})

	m.remoteCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_calls_total",
		Help:      "Total number of remote API calls, by operation and resource type.",
	}, []string{"operation", "resource_type"})

	m.remoteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_call_duration_seconds",
		Help:      "Remote API call duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})

	m.remoteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_errors_total",
		Help:      "Total number of failed remote API calls, by operation and error code.",
	}, []string{"operation", "code"})

	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Total number of list cache lookups, by result.",
	}, []string{"result"})

	m.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Current number of entries in the list cache.",
	})

	m.cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of cache entries evicted.",
	})

	m.policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_decisions_total",
		Help:      "Total number of policy gate decisions, by outcome.",
	}, []string{"decision"})

	m.writesRefused = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "writes_refused_total",
		Help:      "Total number of writes refused before reaching the remote, by reason.",
	}, []string{"reason"})

	m.breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	})

	m.errorsByClass = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_by_class_total",
		Help:      "Total number of errors, by classification.",
	}, []string{"class"})

	m.errorsByCode = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_by_code_total",
		Help:      "Total number of errors, by error code.",
	}, []string{"code"})

	m.auditWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_writes_total",
		Help:      "Total number of audit sink writes, by result.",
	}, []string{"result"})

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeJobs,
		m.recordsProcessed,
		m.recordDuration,
		m.rollbacks,
		m.remoteCalls,
		m.remoteDuration,
		m.remoteErrors,
		m.cacheLookups,
		m.cacheEntries,
		m.cacheEvictions,
		m.policyDecisions,
		m.writesRefused,
		m.breakerState,
		m.errorsByClass,
		m.errorsByCode,
		m.auditWrites,
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// RecordRunStarted records a batch run start.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a batch run completion with its final status.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished decrements the active job gauge.
func (m *Metrics) JobFinished() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Dec()
}

// RecordSyncAction records the outcome of a single record convergence.
func (m *Metrics) RecordSyncAction(resourceType, action string, duration time.Duration) {
	if m.recordsProcessed == nil {
		return
	}
	m.recordsProcessed.WithLabelValues(resourceType, action).Inc()
	m.recordDuration.WithLabelValues(resourceType, action).Observe(duration.Seconds())
}

// RecordRollback records a batch rollback.
func (m *Metrics) RecordRollback() {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.Inc()
}

// RecordRemoteCall records a remote API call.
func (m *Metrics) RecordRemoteCall(operation, resourceType string, duration time.Duration) {
	if m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(operation, resourceType).Inc()
	m.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRemoteError records a failed remote API call.
func (m *Metrics) RecordRemoteError(operation, code string) {
	if m.remoteErrors == nil {
		return
	}
	m.remoteErrors.WithLabelValues(operation, code).Inc()
}

// RecordCacheLookup records a cache lookup result.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries sets the current cache entry count.
func (m *Metrics) SetCacheEntries(n int) {
	if m.cacheEntries == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// RecordCacheEviction records a cache eviction.
func (m *Metrics) RecordCacheEviction() {
	if m.cacheEvictions == nil {
		return
	}
	m.cacheEvictions.Inc()
}

// RecordPolicyDecision records a policy gate decision (allow, deny, warn).
func (m *Metrics) RecordPolicyDecision(decision string) {
	if m.policyDecisions == nil {
		return
	}
	m.policyDecisions.WithLabelValues(decision).Inc()
}

// RecordWriteRefused records a write stopped before the remote was touched.
func (m *Metrics) RecordWriteRefused(reason string) {
	if m.writesRefused == nil {
		return
	}
	m.writesRefused.WithLabelValues(reason).Inc()
}

// SetBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetBreakerState(state int) {
	if m.breakerState == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// RecordError records an error by classification and code.
func (m *Metrics) RecordError(class, code string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	m.errorsByCode.WithLabelValues(code).Inc()
}

// RecordAuditWrite records the result of an audit sink write.
func (m *Metrics) RecordAuditWrite(ok bool) {
	if m.auditWrites == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.auditWrites.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts the metrics HTTP server in a goroutine.
// It returns immediately; server errors are reported through errCh.
func (m *Metrics) StartMetricsServer(errCh chan<- error) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:         m.config.ListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errCh != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}
	}()

	return server
}

// Timer measures elapsed time for metric observations.
type Timer struct {
	start time.Time
}

// NewTimer creates a started timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
