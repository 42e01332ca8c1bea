package queue

import "errors"

// Sentinel kinds for enqueue failures.
var (
	ErrQueueFull   = errors.New("audit queue full")
	ErrQueueClosed = errors.New("audit queue closed")
)
