package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 1024

// Task is a unit of work executed on the drain loop.
type Task func()

// TickFunc is called on the drain loop at every tick.
type TickFunc func(now time.Time)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is a bounded FIFO with exactly one consumer, the goroutine running Run.
//
// Thread Safety: TryPush and Do are safe for concurrent use. Run must be
// called once.
type Queue struct {
	tasks   chan Task
	tick    time.Duration
	metrics *Metrics
	logger  Logger

	tickMu sync.Mutex
	ticks  []TickFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewQueue creates a queue holding up to size pending tasks. The drain loop
// runs tick hooks every tick; zero disables them.
func NewQueue(size int, tick time.Duration, metrics *Metrics) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		tasks:   make(chan Task, size),
		tick:    tick,
		metrics: metrics,
		logger:  noopLogger{},
		stopped: make(chan struct{}),
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// OnTick registers a hook run on the drain loop at every tick.
func (q *Queue) OnTick(fn TickFunc) {
	q.tickMu.Lock()
	defer q.tickMu.Unlock()
	q.ticks = append(q.ticks, fn)
}

// TryPush enqueues without blocking.
func (q *Queue) TryPush(t Task) error {
	select {
	case <-q.stopped:
		return ErrStopped
	default:
	}

	select {
	case q.tasks <- t:
		q.metrics.incEnqueued()
		q.metrics.setDepth(len(q.tasks))
		return nil
	default:
		q.metrics.incDropped()
		return ErrQueueFull
	}
}

// Do runs fn on the drain loop and returns its error. It waits for queue
// space and for completion, bounded by ctx. Calling Do from a task deadlocks.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("dispatch: action panicked: %v", r)
			}
		}()
		done <- fn()
	}

	select {
	case q.tasks <- task:
		q.metrics.incEnqueued()
		q.metrics.setDepth(len(q.tasks))
	case <-q.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-q.stopped:
		// The loop may have run the task just before stopping.
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Stop ends the drain loop. Queued tasks are discarded.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopped) })
}

// Done is closed once the queue is stopped.
func (q *Queue) Done() <-chan struct{} {
	return q.stopped
}

// Run is the drain loop. It executes tasks strictly in arrival order until
// ctx is cancelled or Stop is called, and returns nil on Stop.
func (q *Queue) Run(ctx context.Context) error {
	defer q.Stop()

	var tickC <-chan time.Time
	if q.tick > 0 {
		ticker := time.NewTicker(q.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopped:
			return nil
		case t := <-q.tasks:
			q.metrics.setDepth(len(q.tasks))
			q.execute(t)
		case now := <-tickC:
			q.runTicks(now)
		}
	}
}

func (q *Queue) execute(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch task panic recovered", "panic", r)
		}
	}()
	t()
}

func (q *Queue) runTicks(now time.Time) {
	q.tickMu.Lock()
	ticks := append([]TickFunc(nil), q.ticks...)
	q.tickMu.Unlock()

	for _, fn := range ticks {
		q.execute(func() { fn(now) })
	}
}
