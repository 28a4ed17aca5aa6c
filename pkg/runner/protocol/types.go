// Package protocol defines the JSON-over-stdio communication protocol
// between the racksync CLI and the sync-runner worker process.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/racksync/racksync/pkg/engine"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the worker is ready to receive jobs
	MessageTypeReady MessageType = "READY"
	// MessageTypeJob indicates a bulk job from the controller
	MessageTypeJob MessageType = "JOB"
	// MessageTypeEvent indicates a progress event from the worker
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeResult indicates a completed job with its run report
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError indicates a job or protocol failure
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates a shutdown, in either direction
	MessageTypeExit MessageType = "EXIT"
)

// Message is the base message structure for all protocol messages. Seq is a
// per-stream sequence number starting at 1; each direction numbers its own
// stream independently.
type Message struct {
	Type      MessageType     `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent once on startup, before any job is accepted.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// JobMessage carries one bulk run for the worker to execute. The job id is a
// UUID minted by the controller; it doubles as the batch id stamped into
// provenance metadata, so results remain attributable either way the batch
// ran.
type JobMessage struct {
	ID        string          `json:"id"`
	Records   []engine.Record `json:"records"`
	Mode      engine.RunMode  `json:"mode,omitempty"`
	ChunkSize int             `json:"chunk_size,omitempty"`
	Confirmed bool            `json:"confirmed"`
	Strict    bool            `json:"strict,omitempty"`
	DryRun    bool            `json:"dry_run,omitempty"`
	Timeout   int             `json:"timeout,omitempty"` // seconds, zero means no limit
}

// BatchRequest converts the job into the orchestrator's request form.
func (j *JobMessage) BatchRequest() engine.BatchRequest {
	return engine.BatchRequest{
		Records:   j.Records,
		Mode:      j.Mode,
		Confirmed: j.Confirmed,
		BatchID:   j.ID,
		ChunkSize: j.ChunkSize,
		Strict:    j.Strict,
	}
}

// EventMessage streams progress for a running job.
type EventMessage struct {
	JobID    string               `json:"job_id"`
	Level    string               `json:"level"` // info, warn, debug
	Message  string               `json:"message"`
	Progress *engine.ProgressInfo `json:"progress,omitempty"`
}

// ResultMessage carries the final run report for a job.
type ResultMessage struct {
	JobID    string              `json:"job_id"`
	Result   *engine.BatchResult `json:"result"`
	Duration float64             `json:"duration"` // seconds
}

// ErrorMessage reports a failure. A job-level failure carries the job id; a
// protocol-level failure leaves it empty.
type ErrorMessage struct {
	JobID     string            `json:"job_id,omitempty"`
	Class     string            `json:"class,omitempty"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Err reconstructs the classified error the worker reported.
func (e *ErrorMessage) Err() error {
	se := &engine.SyncError{
		Class:   engine.ErrorClass(e.Class),
		Message: e.Message,
		Code:    e.Code,
	}
	if se.Class == "" {
		se.Class = engine.ErrorClassInternal
	}
	return se
}

// ErrorFrom flattens an engine error into its wire form.
func ErrorFrom(jobID string, err error) *ErrorMessage {
	msg := &ErrorMessage{
		JobID:   jobID,
		Class:   string(engine.ErrorClassInternal),
		Code:    engine.ErrCodeInternal,
		Message: err.Error(),
	}
	var se *engine.SyncError
	if errors.As(err, &se) {
		msg.Class = string(se.Class)
		msg.Code = se.Code
		msg.Message = se.Message
		if se.Err != nil {
			msg.Message += ": " + se.Err.Error()
		}
	}
	return msg
}

// ExitMessage is sent before either side terminates the session.
type ExitMessage struct {
	Reason    string `json:"reason"`
	ExitCode  int    `json:"exit_code"`
	JobsTotal int    `json:"jobs_total"`
}

// Validation methods

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeJob, MessageTypeEvent,
		MessageTypeResult, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the job message is valid.
func (j *JobMessage) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if len(j.Records) == 0 {
		return fmt.Errorf("job contains no records")
	}
	if j.Mode != "" {
		if err := j.Mode.Validate(); err != nil {
			return err
		}
	}
	if j.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	validLevels := map[string]bool{"info": true, "warn": true, "debug": true}
	if !validLevels[evt.Level] {
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
	return nil
}

// Validate checks if the result message is valid.
func (r *ResultMessage) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if r.Result == nil {
		return fmt.Errorf("result is required")
	}
	return nil
}
