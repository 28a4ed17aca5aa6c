package engine

import (
	"encoding/json"
	"fmt"
)

// Action is the tagged outcome of one ensure invocation.
type Action string

const (
	// ActionCreated indicates a new resource was created.
	ActionCreated Action = "created"

	// ActionUpdated indicates an existing resource was updated.
	ActionUpdated Action = "updated"

	// ActionUnchanged indicates the resource already matched desired state.
	ActionUnchanged Action = "unchanged"

	// ActionError indicates the ensure failed.
	ActionError Action = "error"

	// ActionSkipped indicates the record was never attempted, for example
	// after cancellation or a rollback abort.
	ActionSkipped Action = "skipped"
)

// IsWrite returns true if the action performed a remote write.
func (a Action) IsWrite() bool {
	return a == ActionCreated || a == ActionUpdated
}

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionCreated, ActionUpdated, ActionUnchanged, ActionError, ActionSkipped:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// OpKind is the kind of write issued through the proxy.
type OpKind string

const (
	// OpCreate creates a new resource.
	OpCreate OpKind = "create"

	// OpUpdate patches an existing resource.
	OpUpdate OpKind = "update"

	// OpDelete removes an existing resource.
	OpDelete OpKind = "delete"
)

// Validate checks if the operation kind is valid.
func (o OpKind) Validate() error {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return nil
	default:
		return fmt.Errorf("invalid operation kind: %s", o)
	}
}

// IsDestructive returns true if the operation destroys a resource.
func (o OpKind) IsDestructive() bool {
	return o == OpDelete
}

// RunStatus is the overall status of a bulk run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every record converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed outright, including the
	// abort-and-rollback case.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some records succeeded and some failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the run was cancelled between records.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusPartial || s == RunStatusCancelled
}

// IsActive returns true if the run is pending or running.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// RunMode selects the bulk orchestrator's failure behavior. The two modes
// are deliberately distinct: unifying them would change observable batch
// semantics for callers that rely on partial progress.
type RunMode string

const (
	// RunModeContinueOnError captures per-record failures and keeps going.
	RunModeContinueOnError RunMode = "continue_on_error"

	// RunModeAbortAndRollback stops at the first failure and deletes every
	// resource the run created, in reverse creation order.
	RunModeAbortAndRollback RunMode = "abort_and_rollback"
)

// Validate checks if the run mode is valid.
func (m RunMode) Validate() error {
	switch m {
	case RunModeContinueOnError, RunModeAbortAndRollback:
		return nil
	default:
		return fmt.Errorf("invalid run mode: %s", m)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (a *Action) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*a = Action(str)
	return a.Validate()
}
