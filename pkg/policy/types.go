package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/racksync/racksync/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block writes in enforcing mode.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never reach the remote.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation at this severity denies the write
// when the gate runs in enforcing mode.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Mode selects how the gate reacts to blocking violations.
type Mode string

const (
	// ModeAdvisory logs violations and lets the write proceed.
	ModeAdvisory Mode = "advisory"

	// ModeEnforcing denies the write before any network access.
	ModeEnforcing Mode = "enforcing"
)

// ParseMode parses a mode string from configuration. An empty string maps
// to advisory.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAdvisory, "":
		return ModeAdvisory, nil
	case ModeEnforcing:
		return ModeEnforcing, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q (expected advisory or enforcing)", s)
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation against a write intent.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource identifies what the violation is about, usually the
	// resource type of the intent.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Decision is the outcome of evaluating every enabled policy against a
// single write intent.
type Decision struct {
	// Allowed is false when at least one blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists all violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not produce a verdict,
	// such as a policy that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// WriteInput is the document policies evaluate. It is the flattened form
// of an engine.WriteIntent plus the evaluation time.
type WriteInput struct {
	// Operation is the write kind: create, update, or delete.
	Operation string `json:"operation"`

	// ResourceType is the namespaced type, e.g. "dcim.site".
	ResourceType string `json:"resource_type"`

	// ResourceID is the target identifier; absent for creates.
	ResourceID int64 `json:"resource_id,omitempty"`

	// Payload is the body that would be sent to the remote API.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// BatchID ties the write to a bulk run; absent for ad-hoc writes.
	BatchID string `json:"batch_id,omitempty"`

	// DryRun is true when the write would be simulated.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// newWriteInput flattens a write intent into the document policies see.
func newWriteInput(intent engine.WriteIntent) *WriteInput {
	return &WriteInput{
		Operation:    string(intent.Kind),
		ResourceType: string(intent.Type),
		ResourceID:   intent.ResourceID,
		Payload:      intent.Payload,
		BatchID:      intent.BatchID,
		DryRun:       intent.DryRun,
		Timestamp:    time.Now().UTC(),
	}
}
