package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a synchronization failure for gating, reporting,
// and audit decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed or missing input. Always
	// detected before any network call.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConfirmation indicates a write was attempted without
	// explicit confirmation. Always detected before any network call.
	ErrorClassConfirmation ErrorClass = "confirmation_required"

	// ErrorClassNotFound indicates a referenced resource does not exist
	// where existence was required.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassConflict indicates a create would duplicate an existing
	// unique resource, or a lookup was ambiguous in strict mode.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassWrite indicates the remote API rejected or failed a
	// create, update, or delete after gating passed.
	ErrorClassWrite ErrorClass = "write"

	// ErrorClassConnection indicates a transport-level failure reaching
	// the remote API. Not retried by the engine.
	ErrorClassConnection ErrorClass = "connection"

	// ErrorClassTimeout indicates a remote call exceeded its deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassPolicy indicates an enforcing policy denied the write.
	// Detected before any network call.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassInternal indicates an unexpected engine failure.
	ErrorClassInternal ErrorClass = "internal"
)

// PreNetwork returns true for classes that are always raised before any
// remote call is issued. Pre-network failures are never audited as write
// attempts.
func (c ErrorClass) PreNetwork() bool {
	return c == ErrorClassValidation || c == ErrorClassConfirmation || c == ErrorClassPolicy
}

// SyncError is a classified error with resource and operation context.
type SyncError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// ResourceType is the resource type involved, if applicable.
	ResourceType string `json:"resource_type,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.ResourceType != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (type=%s, operation=%s)%s",
			e.Class, e.Message, e.ResourceType, e.Operation, e.unwrapSuffix())
	}
	if e.ResourceType != "" {
		return fmt.Sprintf("[%s] %s (type=%s)%s", e.Class, e.Message, e.ResourceType, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is: two SyncErrors match when
// their class and code agree.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConfirmationError creates a confirmation-required error.
func NewConfirmationError(message string) *SyncError {
	return &SyncError{Class: ErrorClassConfirmation, Message: message, Code: ErrCodeConfirmationRequired}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassNotFound, Message: message, Code: ErrCodeNotFound, Err: err}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewWriteError creates a write error.
func NewWriteError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassWrite, Message: message, Err: err}
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassConnection, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassTimeout, Message: message, Code: ErrCodeTimeout, Err: err}
}

// NewPolicyError creates a policy-denial error.
func NewPolicyError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassPolicy, Message: message, Code: ErrCodePolicyDenied, Err: err}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *SyncError {
	return &SyncError{Class: ErrorClassInternal, Message: message, Code: ErrCodeInternal, Err: err}
}

// WithResourceType adds resource-type context to an error.
func (e *SyncError) WithResourceType(rt string) *SyncError {
	e.ResourceType = rt
	return e
}

// WithOperation adds operation context to an error.
func (e *SyncError) WithOperation(operation string) *SyncError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *SyncError) WithCode(code string) *SyncError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// classOf extracts the SyncError class from an error chain, or internal if
// the chain carries no SyncError.
func classOf(err error) ErrorClass {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return classOf(err) == ErrorClassValidation
}

// IsConfirmationRequired returns true if the error indicates a missing
// write confirmation.
func IsConfirmationRequired(err error) bool {
	return classOf(err) == ErrorClassConfirmation
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	return classOf(err) == ErrorClassNotFound
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return classOf(err) == ErrorClassConflict
}

// IsWrite returns true if the error is classified as a write failure.
func IsWrite(err error) bool {
	return classOf(err) == ErrorClassWrite
}

// IsConnection returns true if the error is classified as a connection
// failure.
func IsConnection(err error) bool {
	return classOf(err) == ErrorClassConnection
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	return classOf(err) == ErrorClassTimeout
}

// IsPolicyDenied returns true if the error is a policy denial.
func IsPolicyDenied(err error) bool {
	return classOf(err) == ErrorClassPolicy
}

// IsPreNetwork returns true if the error was raised before any remote call.
func IsPreNetwork(err error) bool {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Class.PreNetwork()
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeAmbiguousMatch       = "AMBIGUOUS_MATCH"
	ErrCodeMissingDependency    = "MISSING_DEPENDENCY"
	ErrCodeUnsupportedType      = "UNSUPPORTED_TYPE"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeConflict             = "CONFLICT"
	ErrCodePolicyDenied         = "POLICY_DENIED"
	ErrCodeWriteDisabled        = "WRITE_DISABLED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)
