package config

import (
	"fmt"
	"time"

	"github.com/racksync/racksync/pkg/engine"
)

// ManifestRecord represents one resource declared in a manifest.
type ManifestRecord struct {
	// Type is the catalog resource type (e.g., "dcim.device").
	Type string `json:"type" validate:"required"`

	// Name is the natural-key value of the resource. It may be omitted on
	// cable records, where a name is derived from the terminations.
	Name string `json:"name,omitempty"`

	// Fields are the managed field values, keyed by field name.
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Refs name related resources by natural key. Relation fields are
	// resolved to remote identifiers during a run.
	Refs map[string]string `json:"refs,omitempty"`

	// Scope narrows remote lookups for resources whose natural key is only
	// unique within a parent (e.g., {"device": "leaf-7a"} for interfaces).
	Scope map[string]string `json:"scope,omitempty"`

	// Interfaces declares interfaces nested under a device record. Only
	// valid when Type is "dcim.device".
	Interfaces []InterfaceRecord `json:"interfaces,omitempty"`

	// A and B declare cable terminations. Only valid when Type is
	// "dcim.cable".
	A *Termination `json:"a,omitempty"`
	B *Termination `json:"b,omitempty"`
}

// InterfaceRecord declares an interface nested under a device record.
type InterfaceRecord struct {
	// Name is the interface name, unique within the parent device.
	Name string `json:"name" validate:"required"`

	// Fields are the managed field values for the interface.
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Addresses declares IP addresses assigned to this interface.
	Addresses []AddressRecord `json:"addresses,omitempty"`
}

// AddressRecord declares an IP address assigned to an interface.
type AddressRecord struct {
	// Address is the IP address in prefix notation (e.g., "10.20.0.1/31").
	Address string `json:"address" validate:"required"`

	// Fields are additional managed field values for the address.
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Termination names one end of a cable by device and interface.
type Termination struct {
	// Device is the natural key of the device holding the interface.
	Device string `json:"device" validate:"required"`

	// Interface is the interface name on that device.
	Interface string `json:"interface" validate:"required"`
}

// BatchSpec carries run-level settings declared by a manifest.
type BatchSpec struct {
	// Name labels the run in audit records. Auto-generated when empty.
	Name string `json:"name,omitempty"`

	// Mode selects the failure strategy for the run.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=continue_on_error abort_and_rollback"`

	// ChunkSize caps how many records are processed per chunk. Zero means
	// the engine default.
	ChunkSize int `json:"chunk_size,omitempty" validate:"gte=0"`

	// Strict makes ambiguous natural-key lookups fail instead of using the
	// first match.
	Strict bool `json:"strict,omitempty"`
}

// RunMode maps the declared mode onto an engine run mode. An empty mode
// defaults to continue-on-error.
func (b BatchSpec) RunMode() engine.RunMode {
	if b.Mode == string(engine.RunModeAbortAndRollback) {
		return engine.RunModeAbortAndRollback
	}
	return engine.RunModeContinueOnError
}

// ParsedManifest represents a fully parsed and flattened manifest.
type ParsedManifest struct {
	// Batch is the run-level configuration declared by the manifest.
	Batch BatchSpec `json:"batch"`

	// Declared are the records as written, before flattening.
	Declared []ManifestRecord `json:"declared,omitempty"`

	// Records are the flattened engine records, nested interfaces,
	// addresses, and cable terminations expanded.
	Records []engine.Record `json:"records"`

	// SourceFiles are the manifest files that were parsed.
	SourceFiles []string `json:"source_files,omitempty"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-severity validation errors exist.
// Warnings and informational entries do not count.
func (pm *ParsedManifest) HasErrors() bool {
	for _, e := range pm.Errors {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ToBatchRequest converts the flattened records into a bulk request for the
// orchestrator. Confirmation is a caller decision, never a manifest one.
func (pm *ParsedManifest) ToBatchRequest(confirmed bool) engine.BatchRequest {
	return engine.BatchRequest{
		Records:   pm.Records,
		Mode:      pm.Batch.RunMode(),
		Confirmed: confirmed,
		BatchID:   pm.Batch.Name,
		ChunkSize: pm.Batch.ChunkSize,
		Strict:    pm.Batch.Strict,
	}
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the error (e.g., "records.leaf-7a.fields").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error renders the validation error with its location when known.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// StarlarkResult represents the result of generator script execution.
type StarlarkResult struct {
	// Output is the global bindings exported by the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
