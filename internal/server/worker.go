package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/cwbudde/msearch/internal/bench"
	"github.com/cwbudde/msearch/internal/opt"
	"github.com/cwbudde/msearch/internal/search"
	"github.com/cwbudde/msearch/internal/store"
)

// resolveFunction looks up the benchmark of cfg and checks the start point
// against it.
func resolveFunction(cfg store.RunConfig) (bench.Func, error) {
	fn, err := bench.ByName(cfg.Function, cfg.Dim)
	if err != nil {
		return nil, err
	}
	if cfg.Start != nil && len(cfg.Start) != fn.Dim() {
		return nil, fmt.Errorf("start has %d components, %s needs %d", len(cfg.Start), fn.Name(), fn.Dim())
	}
	return fn, nil
}

// runJob executes an optimization job in the background.
// If checkpointStore is not nil, the trace is written next to the checkpoints,
// a final checkpoint is saved and, when checkpointInterval > 0, periodic ones.
func runJob(ctx context.Context, jm *JobManager, checkpointStore *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	defer jm.release(jobID)

	// Check for cancellation before starting
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	cfg := job.Config
	slog.Info("Starting job", "job_id", jobID, "function", cfg.Function, "method", cfg.Method)

	fn, err := resolveFunction(cfg)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	optimizer, err := opt.FromConfig(cfg, slog.Default().With("job_id", jobID))
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var evals atomic.Int64
	problem := opt.BenchProblem(fn, cfg.Start)
	problem.Objective = func(x []float64) float64 {
		evals.Add(1)
		return fn.Eval(x)
	}

	initialCost := fn.Eval(problem.Initial())
	jm.UpdateJob(jobID, func(j *Job) {
		j.InitialCost = initialCost
		j.StepSize = cfg.Step
	})

	var trace *store.TraceWriter
	if checkpointStore != nil {
		trace, err = store.NewTraceWriter(checkpointStore.BaseDir(), jobID, false)
		if err != nil {
			slog.Warn("Trace disabled", "job_id", jobID, "error", err)
			trace = nil
		} else {
			defer trace.Close()
		}
	}
	problem.Controller = progressController(jm, jobID, trace)

	start := time.Now()

	// Start progress monitoring goroutine
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, &evals, progressDone)

	// Start checkpoint monitoring goroutine if enabled
	checkpointDone := make(chan struct{})
	if checkpointStore != nil && cfg.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, jobID, checkpointDone)
	}

	result, err := optimizer.Run(ctx, problem)
	close(progressDone)
	close(checkpointDone)
	elapsed := time.Since(start)

	if trace != nil {
		if cerr := trace.Close(); cerr != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", cerr)
		}
	}

	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	err = jm.UpdateJob(jobID, func(j *Job) {
		if !math.IsInf(result.Cost, 0) && (len(j.BestParams) == 0 || result.Cost <= j.BestCost) {
			j.BestParams = result.Best
			j.BestCost = result.Cost
		}
		if result.Step > 0 {
			j.StepSize = result.Step
		}
		if result.Iterations > j.Iterations {
			j.Iterations = result.Iterations
		}
		j.Evaluations = evals.Load()
	})
	if err != nil {
		return err
	}

	// The final checkpoint and trace are on disk before the job turns terminal.
	if checkpointStore != nil {
		if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	state := StateCompleted
	if result.Cancelled {
		state = StateCancelled
	}
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.EndTime = &endTime
	})

	slog.Info("Job finished",
		"job_id", jobID,
		"state", state,
		"elapsed", elapsed,
		"initial_cost", initialCost,
		"best_cost", result.Cost,
		"evaluations", evals.Load(),
		"stats", result.Stats,
	)

	finish(jm, jobID)
	if state == StateCancelled {
		return context.Canceled
	}
	return nil
}

// finish broadcasts the terminal state and closes all streams of the job.
func finish(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventFor(job))
	}
	jm.broadcaster.CleanupJob(jobID)
}

// progressController records every pattern-search step on the job and in
// the trace. It never stops the search.
func progressController(jm *JobManager, jobID string, trace *store.TraceWriter) search.Controller {
	return search.ControllerFunc(func(s search.Step) bool {
		if math.IsInf(s.Value, 0) {
			return true
		}
		params := s.Best.Slice()
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = s.Iteration
			j.StepSize = s.StepSize
			if len(j.BestParams) == 0 || s.Value <= j.BestCost {
				j.BestParams = params
				j.BestCost = s.Value
			}
		})
		if trace != nil {
			err := trace.Write(store.TraceEntry{
				Iteration: s.Iteration,
				Cost:      s.Value,
				StepSize:  s.StepSize,
				Timestamp: time.Now(),
				Params:    params,
			})
			if err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
		return true
	})
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, evals *atomic.Int64, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var job *Job
			err := jm.UpdateJob(jobID, func(j *Job) {
				j.Evaluations = evals.Load()
				job = j.clone()
			})
			if err != nil {
				return
			}
			jm.broadcaster.Broadcast(eventFor(job))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	finish(jm, jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	finish(jm, jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if len(job.BestParams) == 0 {
		slog.Debug("Skipping checkpoint, no best params yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestParams,
		job.BestCost,
		job.InitialCost,
		job.Iterations,
		job.Config,
	)
	checkpoint.StepSize = job.StepSize
	checkpoint.Evaluations = job.Evaluations
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"best_cost", job.BestCost,
	)
	return nil
}
