// Package queue defines the bounded in-memory queue that carries audit
// records from the progression service to the audit workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10_000
)

// Record is the payload type flowing through the queue.
type Record = model.AuditRecord

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a record without blocking. It returns ErrQueueFull when
	// the queue is at capacity and ErrQueueClosed after Close.
	Enqueue(ctx context.Context, rec Record) error

	// Dequeue returns a channel that receives records as they become
	// available. The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Record

	// Len returns the current number of queued records.
	Len() int

	// Close stops accepting records. Queued records remain dequeueable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	records  chan Record
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.records = make(chan Record, q.capacity)

	metrics.UpdateAuditQueueSize(0)
	return q
}

// Enqueue adds a record to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, rec Record) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordAuditDropped()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordAuditDropped()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	select {
	case q.records <- rec:
		metrics.RecordAuditEnqueued()
		metrics.UpdateAuditQueueSize(len(q.records))
		return nil
	default:
		metrics.RecordAuditDropped()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrQueueFull
	}
}

// Dequeue returns a channel that will receive records as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Record {
	out := make(chan Record)
	go func() {
		defer close(out)
		for rec := range q.records {
			select {
			case out <- rec:
				metrics.UpdateAuditQueueSize(len(q.records))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued records.
func (q *InMemoryQueue) Len() int {
	return len(q.records)
}

// Close stops accepting records and lets consumers drain what is queued.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.records)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
