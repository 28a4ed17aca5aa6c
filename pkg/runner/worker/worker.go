// Package worker implements the sync-runner job loop: it reads bulk jobs
// from stdin, executes them through the orchestrator, and streams progress
// and results back over stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/runner/protocol"
)

// Factory builds the proxy one job runs against. Every job gets a fresh
// proxy so cache state never leaks across job boundaries: a worker cannot
// observe invalidations performed by the controlling process. The returned
// release function is called once the job finishes.
type Factory func(ctx context.Context, job *protocol.JobMessage) (engine.Proxy, func(), error)

// Worker executes bulk jobs received over stdio. Jobs run concurrently;
// a duplicate job id for a run still in flight is rejected.
type Worker struct {
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	factory Factory
	logger  zerolog.Logger
	version string

	mu      sync.Mutex
	running map[string]bool
	jobs    int
	wg      sync.WaitGroup
}

// New creates a worker reading jobs from in and writing protocol messages
// to out. The logger must not write to out; stdout belongs to the protocol.
func New(in io.Reader, out io.Writer, factory Factory, logger zerolog.Logger, version string) *Worker {
	return &Worker{
		encoder: protocol.NewEncoder(out),
		decoder: protocol.NewDecoder(in),
		factory: factory,
		logger:  logger.With().Str("component", "worker").Logger(),
		version: version,
		running: make(map[string]bool),
	}
}

// Run sends READY and processes jobs until stdin closes, an EXIT message
// arrives, or ctx is cancelled. It returns the process exit code.
func (w *Worker) Run(ctx context.Context) int {
	if err := w.sendReady(); err != nil {
		w.logger.Error().Err(err).Msg("failed to send ready")
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reason := "stdin_closed"
	exitCode := 0

loop:
	for {
		msg, err := w.decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			w.sendError(&protocol.ErrorMessage{
				Code:    "PROTOCOL_ERROR",
				Message: err.Error(),
			})
			reason = "protocol_error"
			exitCode = 1
			break loop
		}

		switch msg.Type {
		case protocol.MessageTypeJob:
			var job protocol.JobMessage
			if err := protocol.ParseBody(msg.Data, &job); err != nil {
				w.sendError(&protocol.ErrorMessage{
					Code:    "INVALID_JOB",
					Message: err.Error(),
				})
				continue
			}
			if err := job.Validate(); err != nil {
				w.sendError(&protocol.ErrorMessage{
					JobID:   job.ID,
					Code:    "INVALID_JOB",
					Message: err.Error(),
				})
				continue
			}
			w.dispatch(ctx, &job)

		case protocol.MessageTypeExit:
			reason = "controller_requested"
			break loop

		default:
			w.sendError(&protocol.ErrorMessage{
				Code:    "PROTOCOL_ERROR",
				Message: fmt.Sprintf("unexpected message type: %s", msg.Type),
			})
		}
	}

	// Stop in-flight jobs and let each report its terminal message before
	// the EXIT goes out. The orchestrator yields between records, so this
	// is bounded by a single record's remote call.
	cancel()
	w.wg.Wait()

	w.mu.Lock()
	total := w.jobs
	w.mu.Unlock()

	if err := w.encoder.EncodeExit(&protocol.ExitMessage{
		Reason:    reason,
		ExitCode:  exitCode,
		JobsTotal: total,
	}); err != nil {
		w.logger.Debug().Err(err).Msg("failed to send exit")
	}
	return exitCode
}

func (w *Worker) sendReady() error {
	return w.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:  w.version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
	})
}

// dispatch starts one job unless its id is already in flight.
func (w *Worker) dispatch(ctx context.Context, job *protocol.JobMessage) {
	w.mu.Lock()
	if w.running[job.ID] {
		w.mu.Unlock()
		w.logger.Warn().Str("job_id", job.ID).Msg("duplicate job rejected")
		w.sendError(&protocol.ErrorMessage{
			JobID:   job.ID,
			Code:    "DUPLICATE_JOB",
			Message: "a job with this id is already running",
		})
		return
	}
	w.running[job.ID] = true
	w.jobs++
	w.mu.Unlock()

	w.wg.Add(1)
	go w.execute(ctx, job)
}

// execute runs one job to completion and reports RESULT or ERROR.
func (w *Worker) execute(ctx context.Context, job *protocol.JobMessage) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.running, job.ID)
		w.mu.Unlock()
	}()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.Timeout)*time.Second)
		defer cancel()
	}

	logger := w.logger.With().Str("job_id", job.ID).Logger()
	logger.Info().Int("records", len(job.Records)).Bool("dry_run", job.DryRun).Msg("job started")

	start := time.Now()

	proxy, release, err := w.factory(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("proxy construction failed")
		w.sendError(protocol.ErrorFrom(job.ID, err))
		return
	}
	defer release()

	sink := engine.ProgressFunc(func(info engine.ProgressInfo) {
		if err := w.encoder.EncodeEvent(&protocol.EventMessage{
			JobID:    job.ID,
			Level:    "info",
			Message:  info.Item,
			Progress: &info,
		}); err != nil {
			logger.Debug().Err(err).Msg("failed to stream progress")
		}
	})

	orch := engine.NewOrchestrator(proxy, logger, engine.WithProgressSink(sink))
	result, err := orch.Run(ctx, job.BatchRequest())
	if result == nil {
		logger.Error().Err(err).Msg("job failed before producing a report")
		w.sendError(protocol.ErrorFrom(job.ID, err))
		return
	}

	// An aborted run still produces a full report; the trigger error rides
	// along inside it.
	logger.Info().
		Str("status", string(result.Status)).
		Int("created", result.Summary.Created).
		Int("updated", result.Summary.Updated).
		Int("failed", result.Summary.Failed).
		Msg("job finished")

	if err := w.encoder.EncodeResult(&protocol.ResultMessage{
		JobID:    job.ID,
		Result:   result,
		Duration: time.Since(start).Seconds(),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to send result")
	}
}

func (w *Worker) sendError(msg *protocol.ErrorMessage) {
	if err := w.encoder.EncodeError(msg); err != nil {
		w.logger.Debug().Err(err).Msg("failed to send error")
	}
}
