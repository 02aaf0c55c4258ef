package dispatch

import "errors"

var (
	// ErrQueueFull is returned by TryPush when the queue is at capacity.
	// The task is dropped and counted.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrStopped is returned once the drain loop has stopped.
	ErrStopped = errors.New("dispatch: queue stopped")
)
