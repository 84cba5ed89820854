package server

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cwbudde/msearch/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.InitialCost != 2 {
		t.Errorf("Expected initial cost 2 at the origin, got %v", updated.InitialCost)
	}
	if math.Abs(updated.BestCost) > 1e-9 {
		t.Errorf("Expected quadratic optimum, got %v", updated.BestCost)
	}
	if len(updated.BestParams) != 2 {
		t.Errorf("Expected 2 params, got %d", len(updated.BestParams))
	}
	if updated.Iterations != 20 {
		t.Errorf("Expected 20 iterations, got %d", updated.Iterations)
	}
	if updated.Evaluations == 0 {
		t.Error("Evaluations should be counted")
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_WritesTraceAndCheckpoint(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(testConfig())
	if err := runJob(context.Background(), jm, fs, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	reader, err := store.NewTraceReader(tmpDir, job.ID)
	if err != nil {
		t.Fatalf("Trace should exist: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("Expected one trace entry per step, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Cost > entries[i-1].Cost {
			t.Errorf("Trace cost increased at %d: %v > %v", i, entries[i].Cost, entries[i-1].Cost)
		}
	}

	cp, err := fs.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Final checkpoint should exist: %v", err)
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("Checkpoint should be valid: %v", err)
	}
	if cp.Iteration != 20 || cp.StepSize <= 0 {
		t.Errorf("Unexpected checkpoint progress: iteration %d, step %v", cp.Iteration, cp.StepSize)
	}
}

func TestRunJob_UnknownFunction(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig()
	cfg.Function = "eggholder"
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Error("runJob should fail for an unknown function")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig()
	cfg.Function = "rosenbrock"
	cfg.Dim = 4
	cfg.Steps = 1 << 30
	job := jm.CreateJob(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runJob(ctx, jm, nil, job.ID) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Job did not stop after cancellation")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_CancelledBeforeStart(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runJob(ctx, jm, nil, job.ID); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled || updated.Iterations != 0 {
		t.Errorf("Expected cancelled job without progress, got %+v", updated)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), nil, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestResolveFunction(t *testing.T) {
	cfg := testConfig()
	cfg.Start = []float64{1, 2, 3}
	if _, err := resolveFunction(cfg); err == nil {
		t.Error("Expected error for a start point of the wrong dimension")
	}

	cfg.Function = "sphere"
	cfg.Dim = 3
	fn, err := resolveFunction(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fn.Dim() != 3 {
		t.Errorf("Expected dimension 3, got %d", fn.Dim())
	}
}
