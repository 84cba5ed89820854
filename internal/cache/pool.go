package cache

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/msearch/internal/point"
)

// task is one pending evaluation. Workers write value and err, then close
// done. Readers must only look at value and err after done is closed.
type task struct {
	p      point.Point
	fn     Function
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	value float64
	err   error
}

func newTask(ctx context.Context, fn Function, p point.Point) *task {
	ctx, cancel := context.WithCancel(ctx)
	return &task{
		p:      p,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (t *task) run() {
	defer close(t.done)
	defer t.cancel()

	// Aborted before a worker picked it up.
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return
	}

	var pc panics.Catcher
	pc.Try(func() {
		t.value, t.err = t.fn.Evaluate(t.ctx, t.p)
	})
	if r := pc.Recovered(); r != nil {
		t.err = r.AsError()
	}
}

func (t *task) fail(err error) {
	t.err = err
	t.cancel()
	close(t.done)
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// workerPool runs tasks on a fixed number of goroutines fed from an
// unbounded FIFO queue, so submit never blocks the control goroutine.
type workerPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*task
	closed bool

	workers *pool.Pool
	onRun   func()
}

func newWorkerPool(n int, onRun func()) *workerPool {
	wp := &workerPool{
		workers: pool.New().WithMaxGoroutines(n),
		onRun:   onRun,
	}
	wp.cond = sync.NewCond(&wp.mu)
	for i := 0; i < n; i++ {
		wp.workers.Go(wp.work)
	}
	return wp
}

// submit queues t. It reports false if the pool has been closed.
func (wp *workerPool) submit(t *task) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return false
	}
	wp.queue = append(wp.queue, t)
	wp.cond.Signal()
	return true
}

func (wp *workerPool) next() *task {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for len(wp.queue) == 0 && !wp.closed {
		wp.cond.Wait()
	}
	if wp.closed {
		return nil
	}
	t := wp.queue[0]
	wp.queue[0] = nil
	wp.queue = wp.queue[1:]
	return t
}

func (wp *workerPool) work() {
	for {
		t := wp.next()
		if t == nil {
			return
		}
		if wp.onRun != nil && t.ctx.Err() == nil {
			wp.onRun()
		}
		t.run()
	}
}

// close fails every queued task with ErrClosed, then waits for the workers
// to finish their current task and exit.
func (wp *workerPool) close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	pending := wp.queue
	wp.queue = nil
	wp.cond.Broadcast()
	wp.mu.Unlock()

	for _, t := range pending {
		t.fail(ErrClosed)
	}
	wp.workers.Wait()
}
