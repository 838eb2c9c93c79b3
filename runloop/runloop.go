package runloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors for runloop operations
var (
	// ErrNotStarted indicates the loop hasn't been started yet
	ErrNotStarted = errors.New("runloop not started")

	// ErrStopped indicates the loop has been stopped
	ErrStopped = errors.New("runloop stopped")

	// ErrAlreadyStarted indicates Start() was called on a running loop
	ErrAlreadyStarted = errors.New("runloop already started")

	// ErrQueueFull indicates the task queue is at capacity
	ErrQueueFull = errors.New("runloop queue full")

	// ErrStopTimeout indicates the loop didn't drain within the timeout
	ErrStopTimeout = errors.New("timeout waiting for runloop to drain")
)

// Task is a unit of work executed on the loop's goroutine.
type Task func()

// StatsHook receives loop events for metrics export. Implementations
// must be safe for concurrent use.
type StatsHook interface {
	RecordRunloopDepth(name string, depth int)
	RecordRunloopPanic(name string)
}

// Runloop is a single-goroutine cooperative event loop with a bounded
// task queue. See the package documentation for the ownership rules.
type Runloop struct {
	name      string
	queueSize int

	tasks  chan Task
	logger *slog.Logger
	hook   StatsHook
	wg     sync.WaitGroup

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	posted   int64
	executed int64
	panicked int64
	dropped  int64
}

// Option configures a Runloop at construction.
type Option func(*Runloop)

// WithQueueSize overrides the default task queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Runloop) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runloop) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStatsHook mirrors queue depth and recovered panics into a
// metrics sink.
func WithStatsHook(hook StatsHook) Option {
	return func(r *Runloop) { r.hook = hook }
}

// New creates a runloop. The name appears in logs and stats only.
func New(name string, opts ...Option) *Runloop {
	r := &Runloop{
		name:      name,
		queueSize: 1024,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tasks = make(chan Task, r.queueSize)
	return r
}

// Name returns the loop's name.
func (r *Runloop) Name() string { return r.name }

// Start launches the loop goroutine. The context cancels execution of
// tasks not yet dequeued; queued tasks accepted before cancellation may
// still run during the drain.
func (r *Runloop) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	r.wg.Add(1)
	go r.run(ctx)

	r.started = true
	return nil
}

// Post enqueues a task for execution on the loop goroutine. It never
// blocks: a full queue returns ErrQueueFull.
func (r *Runloop) Post(task Task) error {
	if task == nil {
		return nil
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.started {
		return ErrNotStarted
	}
	if r.stopped {
		return ErrStopped
	}

	select {
	case r.tasks <- task:
		atomic.AddInt64(&r.posted, 1)
		if r.hook != nil {
			r.hook.RecordRunloopDepth(r.name, len(r.tasks))
		}
		return nil
	default:
		atomic.AddInt64(&r.dropped, 1)
		return ErrQueueFull
	}
}

// PostDelayed schedules a task onto the loop after d elapses. The
// deferred post is dropped silently if the loop stopped in between;
// callers needing a guarantee should observe the loop's shutdown
// themselves.
func (r *Runloop) PostDelayed(d time.Duration, task Task) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = r.Post(task)
	})
}

// Stop closes the queue, lets the loop drain every accepted task, and
// waits up to timeout for it to exit.
func (r *Runloop) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	if !r.started || r.stopped {
		r.lifecycleMu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.tasks)
	r.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of loop counters.
func (r *Runloop) Stats() Stats {
	return Stats{
		QueueSize:  r.queueSize,
		QueueDepth: len(r.tasks),
		Posted:     atomic.LoadInt64(&r.posted),
		Executed:   atomic.LoadInt64(&r.executed),
		Panicked:   atomic.LoadInt64(&r.panicked),
		Dropped:    atomic.LoadInt64(&r.dropped),
	}
}

// Stats represents runloop counters.
type Stats struct {
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Posted     int64 `json:"posted"`
	Executed   int64 `json:"executed"`
	Panicked   int64 `json:"panicked"`
	Dropped    int64 `json:"dropped"`
}

// run executes tasks until the queue is closed and drained.
func (r *Runloop) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Cancelled - exit without draining. Stop still closes the
			// queue, so tasks accepted after cancellation are dropped,
			// not executed on a dead context.
			return
		case task, ok := <-r.tasks:
			if !ok {
				return
			}
			r.execute(task)
		}
	}
}

// execute runs one task, containing panics so a broken task can never
// kill the loop.
func (r *Runloop) execute(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			atomic.AddInt64(&r.panicked, 1)
			if r.hook != nil {
				r.hook.RecordRunloopPanic(r.name)
			}
			r.logger.Error("runloop task panicked",
				"runloop", r.name,
				"panic", rec)
		}
	}()

	task()
	atomic.AddInt64(&r.executed, 1)
}
