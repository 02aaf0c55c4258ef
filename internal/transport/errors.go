package transport

import "errors"

var (
	// ErrClosed is returned by operations on a closed or dropped connection.
	ErrClosed = errors.New("transport: connection closed")

	// ErrInvalidTopic is returned for empty topics, wildcards in a publish
	// topic, or a "#" that is not the last level of a filter.
	ErrInvalidTopic = errors.New("transport: invalid topic")

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = errors.New("transport: nil handler")
)
