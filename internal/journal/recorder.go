package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/momcore/internal/event"
)

// DefaultBufferSize is used when NewRecorder is given a non-positive size.
const DefaultBufferSize = 256

// drainTimeout bounds how long Run keeps writing buffered entries after
// its context is cancelled.
const drainTimeout = 2 * time.Second

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is an event observer that appends every event to a Repository.
//
// Observe runs on the drain loop and never blocks: entries go into a
// bounded buffer that Run writes out on its own goroutine. When the
// buffer is full the entry is dropped and counted.
type Recorder struct {
	repo      Repository
	namespace string
	role      string
	buf       chan Entry

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	logger  Logger
}

// NewRecorder creates a recorder tagging entries with namespace and role.
func NewRecorder(repo Repository, namespace, role string, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		repo:      repo,
		namespace: namespace,
		role:      role,
		buf:       make(chan Entry, bufferSize),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record queues e for writing.
func (r *Recorder) Record(e event.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.buf <- Entry{Namespace: r.namespace, Role: r.role, Event: e}:
		return nil
	default:
		r.dropped.Add(1)
		return ErrBufferFull
	}
}

// Observe adapts Record to event.Observer.
func (r *Recorder) Observe(e event.Event) {
	if err := r.Record(e); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Warn("journal entry dropped", "type", e.Type, "error", err)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes buffered entries until ctx is cancelled, then flushes what
// is left within drainTimeout and stops accepting new ones.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.buf:
			r.write(ctx, e)
		case <-ctx.Done():
			r.close()
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.buf)
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for e := range r.buf {
		if ctx.Err() != nil {
			r.dropped.Add(1)
			continue
		}
		r.write(ctx, e)
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if err := r.repo.Append(ctx, &e); err != nil {
		r.logger.Error("journal append failed", "type", e.Type, "error", err)
	}
}
