package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job is the queryable state of one background bulk run.
type Job struct {
	// ID identifies the job.
	ID string `json:"id"`

	// BatchID is the batch identifier the run uses.
	BatchID string `json:"batch_id"`

	// Status is the job's current run status.
	Status RunStatus `json:"status"`

	// SubmittedAt is when the job was accepted.
	SubmittedAt time.Time `json:"submitted_at"`

	// StartedAt is when the run began executing, nil while queued.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the run reached a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Result is the full run report, nil until the job finishes.
	Result *BatchResult `json:"result,omitempty"`

	// Error is the triggering failure text for failed runs.
	Error string `json:"error,omitempty"`
}

// jobState pairs a job snapshot with its execution handles.
type jobState struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager runs bulk batches in the background with bounded concurrency.
// Jobs are held in memory for the lifetime of the process.
type JobManager struct {
	orch   *Orchestrator
	logger zerolog.Logger
	sem    chan struct{}

	mu     sync.RWMutex
	jobs   map[string]*jobState
	closed bool
}

// NewJobManager creates a job manager executing at most maxConcurrent runs
// at a time.
func NewJobManager(orch *Orchestrator, logger zerolog.Logger, maxConcurrent int) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &JobManager{
		orch:   orch,
		logger: logger.With().Str("component", "jobs").Logger(),
		sem:    make(chan struct{}, maxConcurrent),
		jobs:   make(map[string]*jobState),
	}
}

// Submit queues a bulk run for background execution and returns its job id.
// The request is validated eagerly so obviously broken batches fail at
// submission rather than inside the job. The run is detached from ctx's
// cancellation (a submitter going away must not kill the run; that is what
// Cancel is for), but ctx's values, such as the telemetry instance, carry
// over into the job.
func (m *JobManager) Submit(ctx context.Context, req BatchRequest) (string, error) {
	if len(req.Records) == 0 {
		return "", NewValidationError("batch contains no records", nil)
	}
	if req.Mode != "" {
		if err := req.Mode.Validate(); err != nil {
			return "", NewValidationError("invalid batch request", err)
		}
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", NewValidationError("job manager is shut down", nil)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &jobState{
		job: Job{
			ID:          uuid.NewString(),
			BatchID:     req.BatchID,
			Status:      RunStatusPending,
			SubmittedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[st.job.ID] = st
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", st.job.ID).
		Str("batch_id", req.BatchID).
		Int("records", len(req.Records)).
		Msg("job submitted")

	go m.execute(runCtx, st.job.ID, req)
	return st.job.ID, nil
}

// execute runs one job to completion, respecting the concurrency bound.
func (m *JobManager) execute(ctx context.Context, jobID string, req BatchRequest) {
	defer func() {
		m.mu.Lock()
		if st, ok := m.jobs[jobID]; ok {
			close(st.done)
		}
		m.mu.Unlock()
	}()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.update(jobID, func(j *Job) {
			now := time.Now()
			j.Status = RunStatusCancelled
			j.FinishedAt = &now
		})
		return
	}

	m.update(jobID, func(j *Job) {
		now := time.Now()
		j.Status = RunStatusRunning
		j.StartedAt = &now
	})

	result, err := m.orch.Run(ctx, req)

	m.update(jobID, func(j *Job) {
		now := time.Now()
		j.FinishedAt = &now
		j.Result = result
		switch {
		case result != nil:
			j.Status = result.Status
			if result.TriggerError != nil {
				j.Error = result.TriggerError.Error()
			}
		case err != nil:
			j.Status = RunStatusFailed
			j.Error = err.Error()
		default:
			j.Status = RunStatusFailed
		}
	})

	m.logger.Info().
		Str("job_id", jobID).
		Str("status", string(m.statusOf(jobID))).
		Msg("job finished")
}

// Status returns a snapshot of one job.
func (m *JobManager) Status(jobID string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.jobs[jobID]
	if !ok {
		return Job{}, NewNotFoundError("job does not exist", nil).WithDetail("job_id", jobID)
	}
	return st.job, nil
}

// List returns snapshots of all jobs ordered by submission time.
func (m *JobManager) List() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, st := range m.jobs {
		jobs = append(jobs, st.job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	return jobs
}

// Cancel requests cooperative cancellation of an active job. The job reaches
// the cancelled status once the orchestrator yields between records.
func (m *JobManager) Cancel(jobID string) error {
	m.mu.RLock()
	st, ok := m.jobs[jobID]
	terminal := ok && st.job.Status.IsTerminal()
	m.mu.RUnlock()
	if !ok {
		return NewNotFoundError("job does not exist", nil).WithDetail("job_id", jobID)
	}
	if terminal {
		return NewValidationError("job already finished", nil).WithDetail("job_id", jobID)
	}
	st.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx expires, returning the run
// result.
func (m *JobManager) Wait(ctx context.Context, jobID string) (*BatchResult, error) {
	m.mu.RLock()
	st, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError("job does not exist", nil).WithDetail("job_id", jobID)
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		return nil, NewTimeoutError("timed out waiting for job", ctx.Err()).
			WithDetail("job_id", jobID)
	}

	job, err := m.Status(jobID)
	if err != nil {
		return nil, err
	}
	return job.Result, nil
}

// Shutdown cancels all active jobs and waits for them to yield, bounded by
// ctx. New submissions are rejected once shutdown begins.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	pending := make([]*jobState, 0, len(m.jobs))
	for _, st := range m.jobs {
		if !st.job.Status.IsTerminal() {
			st.cancel()
			pending = append(pending, st)
		}
	}
	m.mu.Unlock()

	for _, st := range pending {
		select {
		case <-st.done:
		case <-ctx.Done():
			return NewTimeoutError("timed out waiting for jobs to stop", ctx.Err())
		}
	}
	return nil
}

// update mutates one job snapshot under the lock.
func (m *JobManager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.jobs[jobID]; ok {
		fn(&st.job)
	}
}

// statusOf reads one job's status, unknown jobs read as failed.
func (m *JobManager) statusOf(jobID string) RunStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.jobs[jobID]; ok {
		return st.job.Status
	}
	return RunStatusFailed
}
