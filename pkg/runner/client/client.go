// Package client drives a sync-runner worker process over the stdio
// protocol: start the worker, wait for READY, submit jobs, stream progress,
// and shut the worker down with a bounded grace period.
package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/runner/protocol"
)

// Transport starts the worker process and exposes its lifecycle.
type Transport interface {
	// Start launches the worker and returns its stdin and stdout.
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Wait blocks until the worker process exits.
	Wait() error
	// Kill terminates the worker process immediately.
	Kill() error
}

// Config contains client configuration options.
type Config struct {
	Transport Transport
	// StartupTimeout bounds the wait for the READY handshake.
	StartupTimeout time.Duration
	// GracePeriod bounds how long Close waits for a clean worker exit
	// before killing the process.
	GracePeriod time.Duration
}

// decoded pairs a worker message with its read error for the read loop
// channel.
type decoded struct {
	msg *protocol.Message
	err error
}

// Client manages one sync-runner worker process. A client runs one job at a
// time; concurrent Run calls serialize.
type Client struct {
	transport Transport
	timeout   time.Duration
	grace     time.Duration
	logger    zerolog.Logger

	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	ready   *protocol.ReadyMessage

	// msgs carries everything the read loop decodes after the READY
	// handshake. done tears the loop down on Close.
	msgs chan decoded
	done chan struct{}

	mu      sync.Mutex
	runMu   sync.Mutex
	started bool
	closed  bool
}

// NewClient creates a client for a sync-runner worker.
func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if cfg == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 5 * time.Second
	}

	return &Client{
		transport: cfg.Transport,
		timeout:   cfg.StartupTimeout,
		grace:     cfg.GracePeriod,
		logger:    logger.With().Str("component", "runner-client").Logger(),
		msgs:      make(chan decoded, 16),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the worker process and waits for its READY handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.started {
		return fmt.Errorf("client already started")
	}

	stdin, stdout, err := c.transport.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	c.stdin = stdin
	c.stdout = stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseBody(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		c.transport.Kill()
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		c.transport.Kill()
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
	}

	c.started = true
	go c.readLoop()

	c.logger.Debug().
		Str("worker_version", c.ready.Version).
		Str("platform", c.ready.Platform).
		Int("pid", c.ready.PID).
		Msg("worker ready")

	return nil
}

// readLoop funnels every worker message into a single channel so Run and
// Close never race on the decoder.
func (c *Client) readLoop() {
	for {
		msg, err := c.decoder.Decode()
		select {
		case c.msgs <- decoded{msg: msg, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Ready returns the READY message received during startup, or nil before
// Start succeeds.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Run submits one job and blocks until the worker reports a terminal
// outcome, streaming progress events to sink as they arrive. Mirroring
// Orchestrator.Run, an aborted run still returns the full report alongside
// the trigger error. A missing job ID is minted here.
func (c *Client) Run(ctx context.Context, job *protocol.JobMessage, sink engine.ProgressSink) (*engine.BatchResult, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.closed || !c.started {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is not running")
	}
	c.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	if err := c.encoder.EncodeJob(job); err != nil {
		return nil, fmt.Errorf("failed to send job: %w", err)
	}

	c.logger.Info().
		Str("job_id", job.ID).
		Int("records", len(job.Records)).
		Msg("job submitted")

	for {
		var d decoded
		select {
		case <-ctx.Done():
			// Shut the worker down; it cancels the in-flight run on
			// EXIT and drains before exiting.
			if err := c.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("worker shutdown after cancellation failed")
			}
			return nil, fmt.Errorf("job %s cancelled: %w", job.ID, ctx.Err())
		case <-c.done:
			return nil, fmt.Errorf("client closed while job %s was running", job.ID)
		case d = <-c.msgs:
		}

		if d.err != nil {
			return nil, fmt.Errorf("worker stream ended before a result: %w", d.err)
		}

		switch d.msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseBody(d.msg.Data, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			if event.JobID != job.ID {
				continue
			}
			if sink != nil && event.Progress != nil {
				sink.OnProgress(*event.Progress)
			}

		case protocol.MessageTypeResult:
			var res protocol.ResultMessage
			if err := protocol.ParseBody(d.msg.Data, &res); err != nil {
				return nil, fmt.Errorf("failed to parse result: %w", err)
			}
			if res.JobID != job.ID {
				return nil, fmt.Errorf("job ID mismatch: expected %s, got %s", job.ID, res.JobID)
			}
			if res.Result == nil {
				return nil, fmt.Errorf("result message carried no run report")
			}
			if res.Result.TriggerError != nil {
				return res.Result, res.Result.TriggerError
			}
			return res.Result, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseBody(d.msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.JobID != "" && errMsg.JobID != job.ID {
				return nil, fmt.Errorf("job ID mismatch: expected %s, got %s", job.ID, errMsg.JobID)
			}
			return nil, errMsg.Err()

		case protocol.MessageTypeExit:
			var exit protocol.ExitMessage
			if err := protocol.ParseBody(d.msg.Data, &exit); err != nil {
				return nil, fmt.Errorf("failed to parse exit: %w", err)
			}
			return nil, fmt.Errorf("worker exited before returning a result (reason %q)", exit.Reason)

		default:
			return nil, fmt.Errorf("unexpected message type: %s", d.msg.Type)
		}
	}
}

// Close asks the worker to exit, waits up to the grace period for a clean
// shutdown, then kills it. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		close(c.done)
		return nil
	}

	var errs []error

	// EXIT before closing stdin so the worker sees a reason and drains
	// in-flight jobs.
	if err := c.encoder.EncodeExit(&protocol.ExitMessage{Reason: "shutdown"}); err != nil {
		errs = append(errs, fmt.Errorf("failed to send exit: %w", err))
	}
	if err := c.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- c.transport.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			errs = append(errs, fmt.Errorf("worker exited uncleanly: %w", err))
		}
	case <-time.After(c.grace):
		c.logger.Warn().Dur("grace", c.grace).Msg("worker did not exit in time, killing")
		if err := c.transport.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill worker: %w", err))
		}
		<-waitCh
	}

	close(c.done)
	if c.stdout != nil {
		c.stdout.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
