package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/catalog"
	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/runner/protocol"
	"github.com/racksync/racksync/pkg/runner/worker"
)

// fakeProxy is a minimal in-memory Proxy backing the worker under test.
type fakeProxy struct {
	mu        sync.Mutex
	objects   map[catalog.ResourceType][]engine.Object
	nextID    int64
	batchID   string
	createErr error

	// blockList parks List calls until the channel closes or the context
	// expires. listStarted signals the first parked call.
	blockList   chan struct{}
	listStarted chan struct{}
	signalOnce  sync.Once
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		objects: make(map[catalog.ResourceType][]engine.Object),
		nextID:  1,
	}
}

func (f *fakeProxy) List(ctx context.Context, rt catalog.ResourceType, filters engine.Filters) ([]engine.Object, error) {
	if f.blockList != nil {
		if f.listStarted != nil {
			f.signalOnce.Do(func() { close(f.listStarted) })
		}
		select {
		case <-f.blockList:
		case <-ctx.Done():
			return nil, engine.NewConnectionError("list aborted", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.Object
	for _, obj := range f.objects[rt] {
		match := true
		for k, v := range filters {
			if fmt.Sprint(obj[k]) != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeProxy) Get(ctx context.Context, rt catalog.ResourceType, id int64) (engine.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range f.objects[rt] {
		if obj.ID() == id {
			return obj, nil
		}
	}
	return nil, engine.NewNotFoundError("resource does not exist", nil)
}

func (f *fakeProxy) Create(ctx context.Context, rt catalog.ResourceType, payload map[string]interface{}, confirmed bool) (engine.Object, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if !confirmed {
		return nil, engine.NewConfirmationError("write requires explicit confirmation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := engine.Object{}
	for k, v := range payload {
		obj[k] = v
	}
	obj["id"] = f.nextID
	f.nextID++
	f.objects[rt] = append(f.objects[rt], obj)
	return obj, nil
}

func (f *fakeProxy) Update(ctx context.Context, rt catalog.ResourceType, id int64, payload map[string]interface{}, confirmed bool) (engine.Object, error) {
	if !confirmed {
		return nil, engine.NewConfirmationError("write requires explicit confirmation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, obj := range f.objects[rt] {
		if obj.ID() != id {
			continue
		}
		merged := engine.Object{}
		for k, v := range obj {
			merged[k] = v
		}
		for k, v := range payload {
			merged[k] = v
		}
		f.objects[rt][i] = merged
		return merged, nil
	}
	return nil, engine.NewNotFoundError("resource does not exist", nil)
}

func (f *fakeProxy) Delete(ctx context.Context, rt catalog.ResourceType, id int64, confirmed bool) error {
	if !confirmed {
		return engine.NewConfirmationError("write requires explicit confirmation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, obj := range f.objects[rt] {
		if obj.ID() == id {
			f.objects[rt] = append(f.objects[rt][:i], f.objects[rt][i+1:]...)
			return nil
		}
	}
	return engine.NewNotFoundError("resource does not exist", nil)
}

func (f *fakeProxy) ListExpanded(ctx context.Context, rt catalog.ResourceType, filters engine.Filters, expand string) ([]engine.Object, error) {
	return f.List(ctx, rt, filters)
}

func (f *fakeProxy) DryRun() bool { return false }

func (f *fakeProxy) BatchID() string { return f.batchID }

func (f *fakeProxy) WithBatchID(batchID string) engine.Proxy {
	f.batchID = batchID
	return f
}

// workerTransport runs a real worker over in-memory pipes instead of a
// child process.
type workerTransport struct {
	factory worker.Factory
	exited  chan struct{}
	mu      sync.Mutex
	killed  bool
}

func newWorkerTransport(factory worker.Factory) *workerTransport {
	return &workerTransport{factory: factory, exited: make(chan struct{})}
}

func (t *workerTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	w := worker.New(inR, outW, t.factory, zerolog.Nop(), "1.0.0-test")
	go func() {
		w.Run(context.Background())
		outW.Close()
		close(t.exited)
	}()
	return inW, outR, nil
}

func (t *workerTransport) Wait() error {
	<-t.exited
	return nil
}

func (t *workerTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killed = true
	return nil
}

func (t *workerTransport) isKilled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// silentTransport hands out pipes that never produce a READY message.
type silentTransport struct {
	mu     sync.Mutex
	killed bool
	outW   *io.PipeWriter
}

func (t *silentTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	_, inW := io.Pipe()
	outR, outW := io.Pipe()
	t.mu.Lock()
	t.outW = outW
	t.mu.Unlock()
	return inW, outR, nil
}

func (t *silentTransport) Wait() error { return nil }

func (t *silentTransport) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killed = true
	if t.outW != nil {
		t.outW.Close()
	}
	return nil
}

func (t *silentTransport) isKilled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

func staticFactory(proxy engine.Proxy) worker.Factory {
	return func(ctx context.Context, job *protocol.JobMessage) (engine.Proxy, func(), error) {
		return proxy, func() {}, nil
	}
}

func manufacturerJob(names ...string) *protocol.JobMessage {
	records := make([]engine.Record, 0, len(names))
	for _, n := range names {
		records = append(records, engine.Record{Type: catalog.TypeManufacturer, Name: n})
	}
	return &protocol.JobMessage{Records: records, Confirmed: true}
}

func TestClient_RunEndToEnd(t *testing.T) {
	tr := newWorkerTransport(staticFactory(newFakeProxy()))
	c, err := NewClient(&Config{Transport: tr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ready := c.Ready()
	if ready == nil || ready.Version != "1.0.0-test" {
		t.Fatalf("Unexpected READY: %+v", ready)
	}

	var events []engine.ProgressInfo
	sink := engine.ProgressFunc(func(info engine.ProgressInfo) {
		events = append(events, info)
	})

	job := manufacturerJob("Cisco", "Juniper")
	result, err := c.Run(context.Background(), job, sink)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if job.ID == "" {
		t.Error("Expected the client to mint a job ID")
	}
	if result.BatchID != job.ID {
		t.Errorf("Expected batch id %q, got %q", job.ID, result.BatchID)
	}
	if result.Status != engine.RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", result.Status)
	}
	if result.Summary.Created != 2 {
		t.Errorf("Expected 2 creates, got %d", result.Summary.Created)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 progress events, got %d", len(events))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if tr.isKilled() {
		t.Error("Expected a clean shutdown without kill")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected Close to be idempotent, got %v", err)
	}
}

func TestClient_SequentialRuns(t *testing.T) {
	proxy := newFakeProxy()
	tr := newWorkerTransport(staticFactory(proxy))
	c, err := NewClient(&Config{Transport: tr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	first, err := c.Run(context.Background(), manufacturerJob("Cisco"), nil)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Summary.Created != 1 {
		t.Errorf("Expected 1 create, got %d", first.Summary.Created)
	}

	// The second run converges against state left by the first.
	second, err := c.Run(context.Background(), manufacturerJob("Cisco"), nil)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.Summary.Unchanged != 1 {
		t.Errorf("Expected 1 unchanged, got %+v", second.Summary)
	}
	if second.BatchID == first.BatchID {
		t.Error("Expected each run to get its own job ID")
	}
}

func TestClient_StartupTimeout(t *testing.T) {
	tr := &silentTransport{}
	c, err := NewClient(&Config{Transport: tr, StartupTimeout: 50 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = c.Start(context.Background())
	if err == nil {
		t.Fatal("Expected Start to time out")
	}
	if !strings.Contains(err.Error(), "READY") {
		t.Errorf("Expected a READY timeout error, got %v", err)
	}
	if !tr.isKilled() {
		t.Error("Expected the worker to be killed after a failed handshake")
	}
}

func TestClient_WorkerErrorSurfaces(t *testing.T) {
	factory := func(ctx context.Context, job *protocol.JobMessage) (engine.Proxy, func(), error) {
		return nil, nil, engine.NewConnectionError("remote API unreachable", nil)
	}
	tr := newWorkerTransport(factory)
	c, err := NewClient(&Config{Transport: tr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	result, err := c.Run(context.Background(), manufacturerJob("Cisco"), nil)
	if err == nil {
		t.Fatal("Expected the worker error to surface")
	}
	if result != nil {
		t.Errorf("Expected no result, got %+v", result)
	}
	if !engine.IsConnection(err) {
		t.Errorf("Expected a connection-class error, got %v", err)
	}
}

func TestClient_AbortRunReturnsReportAndTrigger(t *testing.T) {
	proxy := newFakeProxy()
	proxy.createErr = engine.NewWriteError("remote API rejected the write", nil)
	tr := newWorkerTransport(staticFactory(proxy))
	c, err := NewClient(&Config{Transport: tr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()

	job := manufacturerJob("Cisco", "Juniper")
	job.Mode = engine.RunModeAbortAndRollback

	result, err := c.Run(context.Background(), job, nil)
	if err == nil {
		t.Fatal("Expected the trigger error alongside the report")
	}
	if !engine.IsWrite(err) {
		t.Errorf("Expected a write-class trigger, got %v", err)
	}
	if result == nil {
		t.Fatal("Expected the full run report despite the abort")
	}
	if result.Status != engine.RunStatusFailed {
		t.Errorf("Expected failed, got %s", result.Status)
	}
	if result.Summary.Failed != 1 || result.Summary.Skipped != 1 {
		t.Errorf("Expected 1 failed and 1 skipped, got %+v", result.Summary)
	}
}

func TestClient_RunCancellation(t *testing.T) {
	proxy := newFakeProxy()
	proxy.blockList = make(chan struct{})
	proxy.listStarted = make(chan struct{})
	tr := newWorkerTransport(staticFactory(proxy))
	c, err := NewClient(&Config{Transport: tr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, manufacturerJob("Cisco", "Juniper"), nil)
		errCh <- err
	}()

	select {
	case <-proxy.listStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("Job never reached the worker")
	}
	cancel()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "cancelled") {
			t.Errorf("Expected a cancellation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Cancellation shuts the client down.
	if _, err := c.Run(context.Background(), manufacturerJob("Arista"), nil); err == nil {
		t.Error("Expected Run after shutdown to fail")
	}
	if tr.isKilled() {
		t.Error("Expected the worker to drain within the grace period")
	}
}

func TestClient_RunBeforeStart(t *testing.T) {
	c, err := NewClient(&Config{Transport: &silentTransport{}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.Run(context.Background(), manufacturerJob("Cisco"), nil); err == nil {
		t.Error("Expected Run before Start to fail")
	}
}

func TestNewClient_RequiresTransport(t *testing.T) {
	if _, err := NewClient(&Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected a missing transport to be rejected")
	}
	if _, err := NewClient(nil, zerolog.Nop()); err == nil {
		t.Error("Expected a nil config to be rejected")
	}
}
