package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is one progress update of a job as sent over SSE.
type ProgressEvent struct {
	JobID       string    `json:"jobId"`
	State       JobState  `json:"state"`
	Iterations  int       `json:"iterations"`
	BestCost    float64   `json:"bestCost"`
	StepSize    float64   `json:"stepSize,omitempty"`
	Evaluations int64     `json:"evaluations"`
	EPS         float64   `json:"eps"` // evaluations per second
	Timestamp   time.Time `json:"timestamp"`
}

func eventFor(job *Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:       job.ID,
		State:       job.State,
		Iterations:  job.Iterations,
		BestCost:    job.BestCost,
		StepSize:    job.StepSize,
		Evaluations: job.Evaluations,
		Timestamp:   time.Now(),
	}
	if secs := job.Elapsed().Seconds(); secs > 0 {
		ev.EPS = float64(job.Evaluations) / secs
	}
	return ev
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 10

// topic holds the subscribers of one job and its most recent event.
type topic struct {
	subs    map[chan ProgressEvent]struct{}
	last    ProgressEvent
	hasLast bool
}

// EventBroadcaster fans job progress out to SSE subscribers. Broadcast never
// blocks: a subscriber whose buffer is full misses the event.
type EventBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{topics: make(map[string]*topic)}
}

func (eb *EventBroadcaster) topic(jobID string) *topic {
	t, ok := eb.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan ProgressEvent]struct{})}
		eb.topics[jobID] = t
	}
	return t
}

// Subscribe registers a subscriber for jobID. The most recent event, if any,
// is already queued on the returned channel.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberBuffer)
	t := eb.topic(jobID)
	t.subs[ch] = struct{}{}
	if t.hasLast {
		ch <- t.last
	}
	slog.Debug("SSE client subscribed", "job_id", jobID, "clients", len(t.subs))
	return ch
}

// Unsubscribe removes and closes ch. It is a no-op if CleanupJob already
// closed it.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	close(ch)
	if len(t.subs) == 0 && !t.hasLast {
		delete(eb.topics, jobID)
	}
	slog.Debug("SSE client unsubscribed", "job_id", jobID)
}

func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t := eb.topic(event.JobID)
	t.last, t.hasLast = event, true

	dropped := 0
	for ch := range t.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("SSE subscribers lagging, event dropped", "job_id", event.JobID, "dropped", dropped)
	}
}

// CleanupJob closes every subscriber of jobID and forgets its last event.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	t, ok := eb.topics[jobID]
	if !ok {
		return
	}
	for ch := range t.subs {
		close(ch)
	}
	delete(eb.topics, jobID)
}

// sseKeepAlive is the interval of comment lines that keep idle proxies from
// closing the stream.
const sseKeepAlive = 30 * time.Second

// handleJobStream handles GET /api/v1/jobs/:id/stream. The stream starts
// with the current state and ends after the terminal event.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, ok := s.jobManager.GetJob(jobID); !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	// Subscribe before reading the state so a transition in between is
	// delivered on the channel.
	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return
	}
	if err := writeSSEEvent(w, eventFor(job)); err != nil {
		slog.Debug("SSE write failed", "job_id", jobID, "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Debug("SSE write failed", "job_id", jobID, "error", err)
				return
			}
			flusher.Flush()
			if ev.State.Terminal() {
				return
			}
		}
	}
}

// writeSSEEvent writes ev as a "progress" event, or "done" once the job is
// terminal.
func writeSSEEvent(w http.ResponseWriter, ev ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	name := "progress"
	if ev.State.Terminal() {
		name = "done"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
