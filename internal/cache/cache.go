// Package cache memoizes objective evaluations and runs them on a bounded
// worker pool. Submission is asynchronous and deduplicated, waiting is
// explicit, and unneeded work can be aborted without losing results that
// already finished.
//
// A ParallelCache is driven by a single control goroutine. Its maps are not
// locked; workers only complete their own task and never touch them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/cwbudde/msearch/internal/point"
)

// Stats is a snapshot of cache activity.
type Stats struct {
	Evaluations  int64 `json:"evaluations"`
	ShortcutHits int64 `json:"shortcutHits"`
	CacheHits    int64 `json:"cacheHits"`
	Aborted      int64 `json:"aborted"`
	Salvaged     int64 `json:"salvaged"`
}

type Option func(*ParallelCache)

// WithWorkers sets the number of evaluation goroutines. Values below one are
// ignored.
func WithWorkers(n int) Option {
	return func(c *ParallelCache) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *ParallelCache) {
		c.log = l
	}
}

type ParallelCache struct {
	fn      Function
	workers int
	log     *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	pool *workerPool

	values   map[point.Key]float64
	inflight map[point.Key]*task

	evaluations  atomic.Int64
	shortcutHits atomic.Int64
	cacheHits    atomic.Int64
	aborted      atomic.Int64
	salvaged     atomic.Int64
}

// NewParallelCache starts the worker pool and installs fn. Call Close to
// stop the workers.
func NewParallelCache(fn Function, opts ...Option) *ParallelCache {
	c := &ParallelCache{
		fn:       fn,
		workers:  runtime.GOMAXPROCS(0),
		log:      slog.Default(),
		values:   make(map[point.Key]float64),
		inflight: make(map[point.Key]*task),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.stop = context.WithCancel(context.Background())
	c.pool = newWorkerPool(c.workers, func() { c.evaluations.Add(1) })
	return c
}

// Function returns the installed objective.
func (c *ParallelCache) Function() Function { return c.fn }

// SetFunction installs fn and invalidates everything computed or in flight
// under the previous function.
func (c *ParallelCache) SetFunction(fn Function) {
	c.ClearCache()
	c.fn = fn
}

// Compute submits points for evaluation without blocking. Points already
// committed or in flight are skipped, so each distinct point is evaluated at
// most once at a time.
func (c *ParallelCache) Compute(points ...point.Point) {
	for _, p := range points {
		c.compute(p)
	}
}

func (c *ParallelCache) compute(p point.Point) {
	k := p.Key()
	if _, ok := c.values[k]; ok {
		c.cacheHits.Add(1)
		return
	}
	if _, ok := c.inflight[k]; ok {
		c.cacheHits.Add(1)
		return
	}

	if sc, ok := c.fn.(Shortcut); ok {
		if v, ok := sc.Precomputed(p); ok && !math.IsNaN(v) {
			c.values[k] = v
			c.shortcutHits.Add(1)
			return
		}
	}

	t := newTask(c.ctx, c.fn, p)
	c.inflight[k] = t
	if !c.pool.submit(t) {
		t.fail(ErrClosed)
	}
}

// WaitFor blocks until every point has a committed value. It returns an
// *EvaluationError if the objective failed for any of them. If ctx ends
// first, ctx.Err() is returned and the pending work stays in flight.
func (c *ParallelCache) WaitFor(ctx context.Context, points ...point.Point) error {
	for _, p := range points {
		if err := c.waitFor(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *ParallelCache) waitFor(ctx context.Context, p point.Point) error {
	k := p.Key()
	if _, ok := c.values[k]; ok {
		return nil
	}
	t, ok := c.inflight[k]
	if !ok {
		return fmt.Errorf("wait for %v: %w", p, ErrNotComputed)
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	delete(c.inflight, k)
	if t.err != nil {
		return &EvaluationError{Point: p, Err: t.err}
	}
	if math.IsNaN(t.value) {
		return &EvaluationError{Point: p, Err: ErrNaN}
	}
	c.values[k] = t.value
	return nil
}

// Abort cancels the evaluation of points that are still running. Work that
// already finished successfully is committed rather than discarded; those
// points are returned.
func (c *ParallelCache) Abort(points ...point.Point) []point.Point {
	var salvaged []point.Point
	for _, p := range points {
		if c.abort(p) {
			salvaged = append(salvaged, p)
		}
	}
	return salvaged
}

func (c *ParallelCache) abort(p point.Point) bool {
	k := p.Key()
	t, ok := c.inflight[k]
	if !ok {
		return false
	}
	delete(c.inflight, k)

	if t.finished() {
		if t.err == nil && !math.IsNaN(t.value) {
			c.values[k] = t.value
			c.salvaged.Add(1)
			return true
		}
		return false
	}

	t.cancel()
	c.aborted.Add(1)
	return false
}

// Value returns the committed value of p. A point still in flight is waited
// for. A point that was never submitted yields ErrNotComputed.
func (c *ParallelCache) Value(p point.Point) (float64, error) {
	if v, ok := c.values[p.Key()]; ok {
		return v, nil
	}
	if err := c.waitFor(context.Background(), p); err != nil {
		return 0, err
	}
	return c.values[p.Key()], nil
}

// Committed reports whether p has a committed value.
func (c *ParallelCache) Committed(p point.Point) bool {
	_, ok := c.values[p.Key()]
	return ok
}

// InFlight returns the number of submitted points that have not been
// harvested or aborted.
func (c *ParallelCache) InFlight() int { return len(c.inflight) }

// ClearCache aborts everything in flight and drops all committed values.
func (c *ParallelCache) ClearCache() {
	n := len(c.inflight)
	for k, t := range c.inflight {
		t.cancel()
		delete(c.inflight, k)
	}
	c.values = make(map[point.Key]float64)
	c.log.Debug("Cache cleared", "aborted", n)
}

// Close clears the cache, stops the workers and waits for them to exit.
func (c *ParallelCache) Close() error {
	c.ClearCache()
	c.stop()
	c.pool.close()
	return nil
}

func (c *ParallelCache) Stats() Stats {
	return Stats{
		Evaluations:  c.evaluations.Load(),
		ShortcutHits: c.shortcutHits.Load(),
		CacheHits:    c.cacheHits.Load(),
		Aborted:      c.aborted.Load(),
		Salvaged:     c.salvaged.Load(),
	}
}

// IsEvaluationError reports whether err carries an objective failure and
// returns it.
func IsEvaluationError(err error) (*EvaluationError, bool) {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
