package stores

import (
	"context"
	"time"

	"github.com/racksync/racksync/pkg/engine"
)

// WriteOutcome tags an audited write as executed or failed.
type WriteOutcome string

const (
	WriteOutcomeOK    WriteOutcome = "ok"
	WriteOutcomeError WriteOutcome = "error"
)

// WriteRecord is one executed write, real or simulated. Pre-network
// refusals (confirmation, policy, write-disable) never produce a record:
// the trail answers "what did the engine do to the remote inventory", not
// "what did callers ask for".
type WriteRecord struct {
	ID           string       `json:"id"`
	BatchID      *string      `json:"batch_id,omitempty"` // nil for single ensure calls
	Timestamp    time.Time    `json:"timestamp"`
	Operation    string       `json:"operation"` // create, update, delete
	ResourceType string       `json:"resource_type"`
	ResourceID   int64        `json:"resource_id"` // zero when the create never got an id
	Payload      string       `json:"payload"`     // JSON blob sent to the remote API
	Outcome      WriteOutcome `json:"outcome"`
	Error        *string      `json:"error,omitempty"`
	DryRun       bool         `json:"dry_run"`
	DurationMS   int64        `json:"duration_ms"`
}

// BatchRun is the stored summary of one bulk orchestrator invocation.
type BatchRun struct {
	ID                string              `json:"id"`
	Mode              engine.RunMode      `json:"mode"`
	Status            engine.RunStatus    `json:"status"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        *time.Time          `json:"finished_at,omitempty"`
	Summary           engine.BatchSummary `json:"summary"`
	SuccessRate       float64             `json:"success_rate"`
	RollbackPerformed bool                `json:"rollback_performed"`
	DryRun            bool                `json:"dry_run"`
}

// WriteFilter narrows a ListWrites query. Zero-valued fields match
// everything.
type WriteFilter struct {
	BatchID      string
	ResourceType string
	Outcome      WriteOutcome
	Limit        int
	Offset       int
}

// Store defines the audit persistence interface.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Write trail. RecordWrite satisfies engine.AuditSink.
	RecordWrite(ctx context.Context, audit engine.WriteAudit) error
	ListWrites(ctx context.Context, filter WriteFilter) ([]*WriteRecord, error)

	// Batch run bookkeeping
	CreateBatchRun(ctx context.Context, run *BatchRun) error
	FinishBatchRun(ctx context.Context, id string, status engine.RunStatus, summary engine.BatchSummary, rollbackPerformed bool) error
	GetBatchRun(ctx context.Context, id string) (*BatchRun, error)
	ListBatchRuns(ctx context.Context, limit int) ([]*BatchRun, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
