package amqp

import "errors"

// Domain-specific errors for AMQP operations.
var (
	// ErrNotConnected is returned when the connection has been closed
	// locally or by the broker.
	ErrNotConnected = errors.New("amqp: client not connected")

	// ErrConnectionFailed is returned when the initial dial fails.
	ErrConnectionFailed = errors.New("amqp: connection failed")

	// ErrInvalidName is returned for an empty queue or exchange name.
	ErrInvalidName = errors.New("amqp: name cannot be empty")
)
