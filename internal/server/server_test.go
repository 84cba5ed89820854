package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/msearch/internal/store"
)

func postJob(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForState(t *testing.T, s *Server, jobID string, want JobState) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.jobManager.GetJob(jobID)
		if ok && job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := s.jobManager.GetJob(jobID)
	t.Fatalf("Job %s did not reach %s, last state %+v", jobID, want, job)
	return nil
}

func shutdown(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	w := postJob(t, s.Handler(), `{"function":"quadratic","steps":20}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Config.Method != store.MethodPattern || job.Config.Step != 0.5 {
		t.Errorf("Defaults should be applied, got %+v", job.Config)
	}

	done := waitForState(t, s, job.ID, StateCompleted)
	if done.BestCost > 1e-9 {
		t.Errorf("Expected optimum, got cost %v", done.BestCost)
	}
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	cases := map[string]string{
		"bad json":         `{"function":`,
		"missing function": `{}`,
		"unknown function": `{"function":"eggholder"}`,
		"unknown method":   `{"function":"sphere","method":"annealing"}`,
		"wrong start":      `{"function":"quadratic","start":[1,2,3]}`,
		"small population": `{"function":"sphere","method":"mayfly","popSize":5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := postJob(t, s.Handler(), body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("Invalid requests should not create jobs, got %d", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	s.jobManager.CreateJob(testConfig())
	s.jobManager.CreateJob(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	job := s.jobManager.CreateJob(testConfig())
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 7
		j.Evaluations = 70
	})

	for _, path := range []string{"/api/v1/jobs/" + job.ID, "/api/v1/jobs/" + job.ID + "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}
		var status map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status["state"] != string(StateRunning) || status["iterations"].(float64) != 7 {
			t.Errorf("%s: unexpected status %v", path, status)
		}
		if _, ok := status["eps"]; !ok {
			t.Errorf("%s: status should report evaluations per second", path)
		}
	}
}

func TestServer_NotFoundAndMethods(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/jobs/nonexistent", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/nonexistent/stream", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/jobs/nonexistent", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/jobs/x/bogus", http.StatusNotFound},
		{http.MethodPut, "/api/v1/jobs", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/jobs/x/status", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/jobs/x/resume", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/jobs/x/trace", http.StatusNotImplemented},
		{http.MethodOptions, "/api/v1/jobs", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, w.Code)
		}
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	w := postJob(t, s.Handler(), `{"function":"rosenbrock","dim":4,"steps":1000000000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	waitForState(t, s, job.ID, StateRunning)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	waitForState(t, s, job.ID, StateCancelled)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Cancelling a finished job should conflict, got %d", rec.Code)
	}
}

func TestServer_TraceCheckpointsAndResume(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s := NewServer(":0", fs)
	defer shutdown(t, s)
	h := s.Handler()

	w := postJob(t, h, `{"function":"sphere","dim":3,"start":[3,-2,1],"steps":10}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	first := waitForState(t, s, job.ID, StateCompleted)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/trace", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected trace, got %d", rec.Code)
	}
	var entries []store.TraceEntry
	json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) != 10 {
		t.Errorf("Expected 10 trace entries, got %d", len(entries))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints", nil))
	var infos []store.CheckpointInfo
	json.NewDecoder(rec.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].RunID != job.ID {
		t.Fatalf("Expected the run's checkpoint, got %+v", infos)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/resume", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 on resume, got %d: %s", rec.Code, rec.Body.String())
	}
	var resumed Job
	json.NewDecoder(rec.Body).Decode(&resumed)
	if resumed.ResumedFrom != job.ID || resumed.ID == job.ID {
		t.Errorf("Unexpected resumed job %+v", resumed)
	}
	if resumed.Config.Step != first.StepSize {
		t.Errorf("Resume should continue with step %v, got %v", first.StepSize, resumed.Config.Step)
	}

	second := waitForState(t, s, resumed.ID, StateCompleted)
	if second.InitialCost != first.BestCost {
		t.Errorf("Resumed run should start at the saved best %v, got %v", first.BestCost, second.InitialCost)
	}
	if second.BestCost > first.BestCost {
		t.Errorf("Resumed run got worse: %v > %v", second.BestCost, first.BestCost)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/missing/resume", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing checkpoint, got %d", rec.Code)
	}
}

func TestServer_InvalidRunID(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s := NewServer(":0", fs)
	defer shutdown(t, s)
	h := s.Handler()

	// %5C decodes to a backslash, which would escape the run directory on
	// Windows.
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/jobs/a%5Cb/trace"},
		{http.MethodPost, "/api/v1/jobs/a%5Cb/resume"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s := NewServer(":0", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer shutdown(t, s)

	job := s.jobManager.CreateJob(testConfig())

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/jobs/%s/stream", ts.URL, job.ID))
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream content type, got %s", ct)
	}

	s.startJob(job.ID)

	// The stream ends with the terminal event.
	var last ProgressEvent
	events := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		if err := json.Unmarshal(line[len("data: "):], &last); err != nil {
			t.Fatalf("Failed to parse event %q: %v", line, err)
		}
		events++
	}

	if events < 2 {
		t.Errorf("Expected initial and final events, got %d", events)
	}
	if last.State != StateCompleted || last.JobID != job.ID {
		t.Errorf("Expected final completed event, got %+v", last)
	}
	if last.Iterations != 20 {
		t.Errorf("Expected 20 iterations in the final event, got %d", last.Iterations)
	}
}

func TestServer_JobStream_FinishedJob(t *testing.T) {
	s := NewServer(":0", nil)
	defer shutdown(t, s)

	job := s.jobManager.CreateJob(testConfig())
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.State = StateFailed })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"state":"failed"`) {
		t.Errorf("Expected a single failed event, got %q", w.Body.String())
	}
}

func TestServer_ShutdownCancelsJobs(t *testing.T) {
	s := NewServer(":0", nil)

	w := postJob(t, s.Handler(), `{"function":"rosenbrock","dim":4,"steps":1000000000}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	waitForState(t, s, job.ID, StateRunning)

	shutdown(t, s)

	got, _ := s.jobManager.GetJob(job.ID)
	if got.State != StateCancelled {
		t.Errorf("Shutdown should cancel running jobs, got %s", got.State)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	eb.Broadcast(ProgressEvent{
		JobID:       "job1",
		State:       StateRunning,
		Iterations:  10,
		BestCost:    100.5,
		Evaluations: 1500,
		Timestamp:   time.Now(),
	})

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iterations != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iterations)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event.
	late := eb.Subscribe("job1")
	select {
	case ev := <-late:
		if ev.Iterations != 10 {
			t.Errorf("Expected replayed event, got %+v", ev)
		}
	default:
		t.Error("Late subscriber should receive the last event")
	}

	// Cleanup closes channels; a later Unsubscribe must not panic.
	eb.CleanupJob("job1")
	if _, ok := <-late; ok {
		t.Error("Channel should be closed after cleanup")
	}
	eb.Unsubscribe("job1", late)
}
