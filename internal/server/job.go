package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/msearch/internal/store"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// Job represents an optimization job
type Job struct {
	ID          string          `json:"id"`
	State       JobState        `json:"state"`
	Config      store.RunConfig `json:"config"`
	ResumedFrom string          `json:"resumedFrom,omitempty"`
	BestParams  []float64       `json:"bestParams,omitempty"`
	BestCost    float64         `json:"bestCost"`
	InitialCost float64         `json:"initialCost"`
	Iterations  int             `json:"iterations"`
	StepSize    float64         `json:"stepSize,omitempty"`
	Evaluations int64           `json:"evaluations"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	c.BestParams = append([]float64(nil), j.BestParams...)
	c.Config.Start = append([]float64(nil), j.Config.Start...)
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	return &c
}

// Elapsed returns the wall time of the job so far.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs. Jobs handed out are copies;
// mutate them through UpdateJob.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config store.RunConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.clone()
}

// GetJob retrieves a copy of the job with the given ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.clone())
		}
	}
	return runningJobs
}

// setCancel records how to stop the job's goroutine.
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// release drops the cancel func of a finished job.
func (jm *JobManager) release(id string) {
	jm.mu.Lock()
	cancel := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// CancelJob asks a pending or running job to stop. The job reaches the
// cancelled state once its optimizer returns.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	var state JobState
	if exists {
		state = job.State
	}
	cancel := jm.cancels[id]
	jm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if state.Terminal() || cancel == nil {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, state)
	}
	cancel()
	return nil
}

// CancelAll stops every job that still has a cancel func and returns how
// many were signalled.
func (jm *JobManager) CancelAll() int {
	jm.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(jm.cancels))
	for _, c := range jm.cancels {
		cancels = append(cancels, c)
	}
	jm.mu.RUnlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}
