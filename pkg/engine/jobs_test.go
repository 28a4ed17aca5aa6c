package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/racksync/racksync/pkg/catalog"
)

func TestJobManager_SubmitAndWait(t *testing.T) {
	proxy := newMockProxy()
	orch := NewOrchestrator(proxy, zerolog.Nop())
	mgr := NewJobManager(orch, zerolog.Nop(), 2)

	id, err := mgr.Submit(context.Background(), BatchRequest{
		Records:   []Record{{Type: catalog.TypeManufacturer, Name: "Cisco"}},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result == nil || result.Status != RunStatusSucceeded {
		t.Fatalf("Expected a succeeded result, got %+v", result)
	}

	job, err := mgr.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != RunStatusSucceeded {
		t.Errorf("Expected succeeded job, got %s", job.Status)
	}
	if job.FinishedAt == nil {
		t.Error("Expected a finish timestamp")
	}
}

func TestJobManager_Submit_EmptyBatch(t *testing.T) {
	mgr := NewJobManager(NewOrchestrator(newMockProxy(), zerolog.Nop()), zerolog.Nop(), 1)
	_, err := mgr.Submit(context.Background(), BatchRequest{})
	if err == nil {
		t.Fatal("Expected validation error for empty batch, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation classification, got %v", err)
	}
}

func TestJobManager_Status_UnknownJob(t *testing.T) {
	mgr := NewJobManager(NewOrchestrator(newMockProxy(), zerolog.Nop()), zerolog.Nop(), 1)
	_, err := mgr.Status("nope")
	if err == nil {
		t.Fatal("Expected not-found error, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("Expected not-found classification, got %v", err)
	}
}

func TestJobManager_Cancel(t *testing.T) {
	proxy := newMockProxy()
	proxy.blockList = make(chan struct{})
	orch := NewOrchestrator(proxy, zerolog.Nop())
	mgr := NewJobManager(orch, zerolog.Nop(), 1)

	id, err := mgr.Submit(context.Background(), BatchRequest{
		Records: []Record{
			{Type: catalog.TypeManufacturer, Name: "Cisco"},
			{Type: catalog.TypeManufacturer, Name: "Juniper"},
		},
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := mgr.Status(id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if job.Status == RunStatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Job never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := mgr.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.Status != RunStatusCancelled {
		t.Errorf("Expected cancelled run, got %s", result.Status)
	}

	// Cancelling a finished job is an error.
	if err := mgr.Cancel(id); err == nil {
		t.Error("Expected error cancelling a finished job")
	}
}

func TestJobManager_List(t *testing.T) {
	proxy := newMockProxy()
	orch := NewOrchestrator(proxy, zerolog.Nop())
	mgr := NewJobManager(orch, zerolog.Nop(), 2)

	for _, name := range []string{"Cisco", "Juniper"} {
		if _, err := mgr.Submit(context.Background(), BatchRequest{
			Records:   []Record{{Type: catalog.TypeManufacturer, Name: name}},
			Confirmed: true,
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	jobs := mgr.List()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].SubmittedAt.After(jobs[1].SubmittedAt) {
		t.Error("Expected jobs ordered by submission time")
	}
}

func TestJobManager_Shutdown_RejectsNewJobs(t *testing.T) {
	proxy := newMockProxy()
	orch := NewOrchestrator(proxy, zerolog.Nop())
	mgr := NewJobManager(orch, zerolog.Nop(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err := mgr.Submit(context.Background(), BatchRequest{
		Records:   []Record{{Type: catalog.TypeManufacturer, Name: "Cisco"}},
		Confirmed: true,
	})
	if err == nil {
		t.Fatal("Expected submissions to be rejected after shutdown")
	}
}
