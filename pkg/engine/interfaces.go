package engine

import (
	"context"

	"github.com/racksync/racksync/pkg/catalog"
)

// Proxy is the safety-gated access path to the remote API. It is the only
// component permitted to issue remote reads or writes; the ensure engine and
// the bulk orchestrator never talk to a transport directly.
type Proxy interface {
	// List returns the objects of a type matching the filters, cache-first.
	List(ctx context.Context, rt catalog.ResourceType, filters Filters) ([]Object, error)

	// Get returns a single object by identifier, cache-first. A missing
	// object returns a not-found error, not a nil object.
	Get(ctx context.Context, rt catalog.ResourceType, id int64) (Object, error)

	// Create writes a new object. It fails before any network access when
	// confirmed is false, and returns a synthesized object in dry-run mode.
	Create(ctx context.Context, rt catalog.ResourceType, payload map[string]interface{}, confirmed bool) (Object, error)

	// Update patches the fields present in payload onto the object. Same
	// gating as Create.
	Update(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}, confirmed bool) (Object, error)

	// Delete removes an object, verifying existence first. Same gating as
	// Create.
	Delete(ctx context.Context, rt catalog.ResourceType, id int64, confirmed bool) error

	// ListExpanded bypasses the cache and normalization, passing the
	// expansion query through to the remote API. Result shape follows the
	// server, not the managed-field catalog.
	ListExpanded(ctx context.Context, rt catalog.ResourceType, filters Filters, expand string) ([]Object, error)

	// DryRun reports whether the proxy simulates writes.
	DryRun() bool

	// BatchID returns the bulk-run identifier writes are attributed to,
	// empty outside a run.
	BatchID() string

	// WithBatchID returns a proxy that stamps the given bulk-run identifier
	// on audit records and policy intents. The underlying cache and
	// transport are shared.
	WithBatchID(batchID string) Proxy
}

// AuditSink records executed writes. Implementations must tolerate being
// nil-checked by callers; audit failures are logged by the proxy and never
// propagated, so a failing sink cannot fail a write that already succeeded.
type AuditSink interface {
	// RecordWrite persists one write attempt and its outcome.
	RecordWrite(ctx context.Context, audit WriteAudit) error
}

// PolicyGate evaluates a write intent before the proxy executes it. A nil
// gate allows everything.
type PolicyGate interface {
	// CheckWrite returns nil to allow the write, or a policy-class error to
	// deny it. Denials happen before any network access.
	CheckWrite(ctx context.Context, intent WriteIntent) error
}

// ProgressSink receives orchestrator progress between records.
type ProgressSink interface {
	// OnProgress is called after each record in pass 1 and pass 2.
	OnProgress(info ProgressInfo)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(info ProgressInfo)

// OnProgress implements ProgressSink.
func (f ProgressFunc) OnProgress(info ProgressInfo) {
	if f != nil {
		f(info)
	}
}
