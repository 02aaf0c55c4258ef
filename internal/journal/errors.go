package journal

import "errors"

var (
	// ErrClosed is returned by Record once the recorder has stopped.
	ErrClosed = errors.New("journal: recorder closed")

	// ErrBufferFull is returned by Record when the write buffer is full.
	ErrBufferFull = errors.New("journal: buffer full")
)
