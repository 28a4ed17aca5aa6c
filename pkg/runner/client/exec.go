package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ExecTransport runs the worker as a local child process. Worker logs ride
// on stderr; stdout carries the protocol.
type ExecTransport struct {
	// Path is the worker executable.
	Path string
	// Args are passed through to the worker.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Start launches the worker process. The context only covers startup; the
// Client owns shutdown and kills after its grace period, so the process is
// not tied to ctx.
func (t *ExecTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return nil, nil, fmt.Errorf("transport already started")
	}
	if t.Path == "" {
		return nil, nil, fmt.Errorf("worker path is required")
	}

	cmd := exec.Command(t.Path, t.Args...)
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", t.Path, err)
	}

	t.cmd = cmd
	return stdin, stdout, nil
}

// Wait blocks until the worker process exits.
func (t *ExecTransport) Wait() error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()

	if cmd == nil {
		return fmt.Errorf("transport not started")
	}
	return cmd.Wait()
}

// Kill terminates the worker process immediately.
func (t *ExecTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}
