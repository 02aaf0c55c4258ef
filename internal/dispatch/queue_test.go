package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// startQueue runs the drain loop for the duration of the test.
func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// barrier waits until every task queued before it has run.
func barrier(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Do(ctx, func() error { return nil }); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(16, 0, nil)

	var order []int
	for i := 0; i < 10; i++ {
		n := i
		if err := q.TryPush(func() { order = append(order, n) }); err != nil {
			t.Fatalf("TryPush(%d) error = %v", i, err)
		}
	}

	startQueue(t, q)
	barrier(t, q)

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if len(order) != 10 {
		t.Errorf("ran %d tasks, want 10", len(order))
	}
}

func TestQueue_FullDropsWithoutBlocking(t *testing.T) {
	m := NewMetrics(nil)
	q := NewQueue(2, 0, m)

	q.TryPush(func() {})
	q.TryPush(func() {})

	start := time.Now()
	err := q.TryPush(func() {})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("TryPush() error = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("TryPush blocked on a full queue")
	}

	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.enqueued); got != 2 {
		t.Errorf("enqueued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.depth); got != 2 {
		t.Errorf("queue_depth = %v, want 2", got)
	}
}

func TestQueue_DoReturnsResult(t *testing.T) {
	q := NewQueue(4, 0, nil)
	startQueue(t, q)

	want := errors.New("action failed")
	if err := q.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
	if err := q.Do(context.Background(), func() error { panic("bad action") }); err == nil {
		t.Error("Do() with panicking action returned nil")
	}

	// The loop survives a panicking plain task too.
	q.TryPush(func() { panic("bad task") })
	barrier(t, q)
}

func TestQueue_DoContextCancelled(t *testing.T) {
	q := NewQueue(1, 0, nil) // not running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.Do(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueue_Stop(t *testing.T) {
	q := NewQueue(4, 0, nil)

	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background()) }()

	q.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if err := q.TryPush(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("TryPush() after Stop error = %v, want ErrStopped", err)
	}
	if err := q.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after Stop error = %v, want ErrStopped", err)
	}
}

func TestQueue_Ticks(t *testing.T) {
	q := NewQueue(4, 5*time.Millisecond, nil)

	var ticks atomic.Int32
	q.OnTick(func(time.Time) { ticks.Add(1) })
	startQueue(t, q)

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("ticks = %d after 2s, want >= 3", ticks.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMetrics_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewMetrics(reg)
	second := NewMetrics(reg)

	first.incEnqueued()
	second.incEnqueued()

	if got := testutil.ToFloat64(first.enqueued); got != 2 {
		t.Errorf("enqueued = %v, want 2 (shared collector)", got)
	}
}
