package engine

import (
	"strconv"
	"time"

	"github.com/racksync/racksync/pkg/catalog"
)

// Object is the server's representation of a resource: a superset of the
// managed-field set including server-only fields such as id, timestamps,
// and computed values. Objects handed out by the proxy may be shared with
// the cache; callers must treat them as read-only.
type Object map[string]interface{}

// DesiredState maps field names to the values the caller wants. Only keys
// present in the managed-field set for the resource type are meaningful.
type DesiredState map[string]interface{}

// Filters is a set of field=value constraints ANDed together by the remote
// API when listing a collection.
type Filters map[string]string

// ID returns the server-assigned identifier, or zero when absent.
func (o Object) ID() int64 {
	id, _ := toInt64(o["id"])
	return id
}

// Field returns the named top-level field.
func (o Object) Field(name string) (interface{}, bool) {
	v, ok := o[name]
	return v, ok
}

// StringField returns the named field as a string, or empty when absent or
// not a string.
func (o Object) StringField(name string) string {
	if v, ok := o[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CustomFields returns the provenance/custom-metadata field group, or nil
// when the object carries none.
func (o Object) CustomFields() map[string]interface{} {
	if v, ok := o[CustomFieldGroup]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// ManagedHash returns the hash stamped by a previous engine write, or empty
// when the object was never engine-managed.
func (o Object) ManagedHash() string {
	if cf := o.CustomFields(); cf != nil {
		if s, ok := cf[CustomFieldHash].(string); ok {
			return s
		}
	}
	return ""
}

// toInt64 coerces the numeric shapes JSON decoding produces into an int64.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// relationID resolves a relation field value to an identifier. Remote APIs
// return relations either as bare ids or as nested objects with an id field.
func relationID(v interface{}) (int64, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return toInt64(m["id"])
	}
	return toInt64(v)
}

// ChangeSet is the structured diff attached to every ensure outcome.
type ChangeSet struct {
	// NeedsUpdate is true when at least one compared field differs.
	NeedsUpdate bool `json:"needs_update"`

	// CreatedFields lists the fields written by a create.
	CreatedFields []string `json:"created_fields,omitempty"`

	// UpdatedFields lists the fields an update changed.
	UpdatedFields []string `json:"updated_fields,omitempty"`

	// UnchangedFields lists the compared fields that already matched.
	UnchangedFields []string `json:"unchanged_fields,omitempty"`
}

// EnsureRequest describes one idempotent upsert.
type EnsureRequest struct {
	// Type is the resource type to ensure.
	Type catalog.ResourceType `json:"type"`

	// ID is the direct-addressing path: when set, the engine fetches by id
	// and performs no field comparison. Zero means unset.
	ID int64 `json:"id,omitempty"`

	// Name is the natural key for the lookup path.
	Name string `json:"name,omitempty"`

	// Scope optionally narrows the natural-key lookup, for example
	// {"device_id": "14"} for an interface name.
	Scope map[string]string `json:"scope,omitempty"`

	// Desired holds the managed-field values the caller wants.
	Desired DesiredState `json:"desired,omitempty"`

	// Confirmed must be explicitly true for any write to be issued.
	Confirmed bool `json:"confirmed"`

	// BatchID is stamped into provenance metadata on writes. Empty for
	// single-resource calls outside a bulk run.
	BatchID string `json:"batch_id,omitempty"`

	// Strict makes an ambiguous natural-key lookup fail instead of using
	// the first match.
	Strict bool `json:"strict,omitempty"`
}

// EnsureResult reports the outcome of one ensure invocation.
type EnsureResult struct {
	// Success is false only when Action is error.
	Success bool `json:"success"`

	// Action is the terminal state reached.
	Action Action `json:"action"`

	// Object is the resulting resource, nil on error.
	Object Object `json:"object,omitempty"`

	// Changes is the structured field diff for the action taken.
	Changes ChangeSet `json:"changes"`

	// DryRun reports whether the write was simulated rather than real.
	DryRun bool `json:"dry_run"`

	// Error carries the classified failure when Action is error.
	Error *SyncError `json:"error,omitempty"`
}

// Record is one desired resource inside a bulk batch.
type Record struct {
	// Type is the resource type of the record.
	Type catalog.ResourceType `json:"type"`

	// Name is the natural-key value of the record.
	Name string `json:"name"`

	// Fields holds the managed-field values for the record.
	Fields DesiredState `json:"fields,omitempty"`

	// Refs maps relation field names to the natural key of the referenced
	// resource, resolved to identifiers during the run. Referenced
	// resources that carry no explicit record in the batch are synthesized
	// with just their natural key.
	Refs map[string]string `json:"refs,omitempty"`

	// Scope narrows natural-key lookups for types whose names are only
	// unique within a parent, keyed by the catalog scope parameter.
	Scope map[string]string `json:"scope,omitempty"`
}

// Key returns the deduplication key of the record within its type.
func (r Record) Key() string {
	if len(r.Scope) == 0 {
		return r.Name
	}
	return scopeKey(r.Scope) + "/" + r.Name
}

// scopeKey renders scope filters in a stable order for keying.
func scopeKey(scope map[string]string) string {
	if len(scope) == 0 {
		return ""
	}
	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	// Scopes hold one or two keys, insertion sort is plenty.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += "&"
		}
		s += k + "=" + scope[k]
	}
	return s
}

// BatchRequest describes one bulk run.
type BatchRequest struct {
	// Records is the flattened desired system.
	Records []Record `json:"records"`

	// Mode selects the failure behavior.
	Mode RunMode `json:"mode"`

	// Confirmed must be explicitly true for any write to be issued.
	Confirmed bool `json:"confirmed"`

	// BatchID identifies the run; minted when empty.
	BatchID string `json:"batch_id,omitempty"`

	// ChunkSize splits very large record lists into fixed-size groups with
	// independent timing. Zero disables chunking.
	ChunkSize int `json:"chunk_size,omitempty"`

	// Strict makes ambiguous lookups fail for every record in the run.
	Strict bool `json:"strict,omitempty"`
}

// RecordResult is the outcome of one record in a bulk run.
type RecordResult struct {
	// Type is the record's resource type.
	Type catalog.ResourceType `json:"type"`

	// Name is the record's natural key.
	Name string `json:"name"`

	// Pass is the orchestrator pass the record ran in.
	Pass int `json:"pass"`

	// Action is the terminal state of the record.
	Action Action `json:"action"`

	// ResourceID is the server identifier after the record converged.
	ResourceID int64 `json:"resource_id,omitempty"`

	// Changes is the structured diff for the record.
	Changes ChangeSet `json:"changes"`

	// DryRun reports whether writes were simulated.
	DryRun bool `json:"dry_run"`

	// Duration is the wall time spent on the record.
	Duration time.Duration `json:"duration"`

	// Error carries the classified failure when Action is error.
	Error *SyncError `json:"error,omitempty"`
}

// BatchSummary aggregates record outcomes.
type BatchSummary struct {
	// Total is the number of records considered.
	Total int `json:"total"`

	// Created counts records that created a resource.
	Created int `json:"created"`

	// Updated counts records that updated a resource.
	Updated int `json:"updated"`

	// Unchanged counts records that already matched.
	Unchanged int `json:"unchanged"`

	// Failed counts records that errored.
	Failed int `json:"failed"`

	// Skipped counts records never attempted.
	Skipped int `json:"skipped"`
}

// SuccessRate returns the fraction of attempted records that converged, in
// percent.
func (s BatchSummary) SuccessRate() float64 {
	attempted := s.Total - s.Skipped
	if attempted <= 0 {
		return 0.0
	}
	return float64(s.Created+s.Updated+s.Unchanged) / float64(attempted) * 100.0
}

// add folds one record outcome into the summary.
func (s *BatchSummary) add(a Action) {
	s.Total++
	switch a {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionUnchanged:
		s.Unchanged++
	case ActionError:
		s.Failed++
	case ActionSkipped:
		s.Skipped++
	}
}

// merge folds another summary into this one.
func (s *BatchSummary) merge(o BatchSummary) {
	s.Total += o.Total
	s.Created += o.Created
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// ChunkTiming records per-chunk progress for very large runs.
type ChunkTiming struct {
	// Index is the zero-based chunk number.
	Index int `json:"index"`

	// Size is the number of records in the chunk.
	Size int `json:"size"`

	// Duration is the wall time the chunk took.
	Duration time.Duration `json:"duration"`

	// Failed counts records that errored within the chunk.
	Failed int `json:"failed"`
}

// BatchResult is the final report of one bulk run.
type BatchResult struct {
	// BatchID identifies the run.
	BatchID string `json:"batch_id"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Mode echoes the failure behavior the run used.
	Mode RunMode `json:"mode"`

	// DryRun reports whether the whole run was simulated.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached a terminal status.
	FinishedAt time.Time `json:"finished_at"`

	// Summary aggregates all records.
	Summary BatchSummary `json:"summary"`

	// Pass1 aggregates the independent-resource pass.
	Pass1 BatchSummary `json:"pass1"`

	// Pass2 aggregates the relationship pass.
	Pass2 BatchSummary `json:"pass2"`

	// Results lists every record outcome in processing order.
	Results []RecordResult `json:"results"`

	// Chunks lists per-chunk timings when chunking was enabled.
	Chunks []ChunkTiming `json:"chunks,omitempty"`

	// RollbackPerformed is true when an abort-and-rollback run deleted the
	// resources it had created.
	RollbackPerformed bool `json:"rollback_performed"`

	// RollbackErrors lists failures during rollback, reported separately so
	// a failed rollback never masks the triggering error.
	RollbackErrors []string `json:"rollback_errors,omitempty"`

	// TriggerError is the failure that aborted an abort-and-rollback run.
	TriggerError *SyncError `json:"trigger_error,omitempty"`
}

// Succeeded returns true when every attempted record converged.
func (r *BatchResult) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

// PreflightEntry is the predicted outcome for one normalized record.
type PreflightEntry struct {
	// Type is the record's resource type.
	Type catalog.ResourceType `json:"type"`

	// Name is the record's natural key.
	Name string `json:"name"`

	// Pass is the pass the record would run in.
	Pass int `json:"pass"`

	// Action is the predicted outcome: created, updated, unchanged, or
	// error.
	Action Action `json:"action"`

	// UpdatedFields lists the fields an update would change.
	UpdatedFields []string `json:"updated_fields,omitempty"`

	// Error carries the failure that makes the record unprocessable.
	Error *SyncError `json:"error,omitempty"`
}

// PreflightReport is the non-mutating preview of a bulk run.
type PreflightReport struct {
	// WouldCreate counts records that would create a resource.
	WouldCreate int `json:"would_create"`

	// WouldUpdate counts records that would update a resource.
	WouldUpdate int `json:"would_update"`

	// Unchanged counts records that already match.
	Unchanged int `json:"unchanged"`

	// Errors counts records that cannot be processed.
	Errors int `json:"errors"`

	// Entries lists the per-record predictions in processing order.
	Entries []PreflightEntry `json:"entries"`
}

// ProgressInfo reports orchestrator progress between records.
type ProgressInfo struct {
	// Current is the number of records processed so far.
	Current int `json:"current"`

	// Total is the number of records in the run.
	Total int `json:"total"`

	// Unit names what is being counted, normally "records".
	Unit string `json:"unit"`

	// Pass is the pass currently executing.
	Pass int `json:"pass"`

	// Item describes the record just processed.
	Item string `json:"item,omitempty"`
}

// WriteAudit captures one executed write for the audit trail.
type WriteAudit struct {
	// BatchID ties the write to a bulk run, empty for single calls.
	BatchID string `json:"batch_id,omitempty"`

	// Kind is the write kind.
	Kind OpKind `json:"kind"`

	// Type is the resource type written.
	Type catalog.ResourceType `json:"type"`

	// ResourceID is the target identifier; zero for creates until the
	// server assigns one.
	ResourceID int64 `json:"resource_id,omitempty"`

	// Payload is the body sent to the remote API.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Outcome is "ok" or "error".
	Outcome string `json:"outcome"`

	// Error is the failure text when Outcome is "error".
	Error string `json:"error,omitempty"`

	// DryRun is true when the write was simulated.
	DryRun bool `json:"dry_run"`

	// Duration is the wall time of the remote call.
	Duration time.Duration `json:"duration"`

	// At is when the write finished.
	At time.Time `json:"at"`
}

// WriteIntent describes a write before it is executed, for policy checks.
type WriteIntent struct {
	// Kind is the write kind.
	Kind OpKind `json:"kind"`

	// Type is the resource type to be written.
	Type catalog.ResourceType `json:"type"`

	// ResourceID is the target identifier; zero for creates.
	ResourceID int64 `json:"resource_id,omitempty"`

	// Payload is the body that would be sent.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// BatchID ties the intent to a bulk run.
	BatchID string `json:"batch_id,omitempty"`

	// DryRun is true when the write would be simulated.
	DryRun bool `json:"dry_run"`
}
