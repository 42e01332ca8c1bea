// Package worker drains the audit queue into an audit sink.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	defaultWriteTimeout = 5 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Sink persists audit records.
type Sink interface {
	Append(ctx context.Context, rec model.AuditRecord) error
}

// Queue defines how workers receive records.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.AuditRecord
}

// Worker writes audit records using the provided sink.
type Worker interface {
	// Run starts the worker loop until the queue drains or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for the worker loop to exit.
	Shutdown(ctx context.Context) error
}

// counters are shared by every worker of a pool.
type counters struct {
	written atomic.Int64
	failed  atomic.Int64
}

// InMemoryWorker implements Worker for audit records.
type InMemoryWorker struct {
	queue        Queue
	sink         Sink
	name         string
	writeTimeout time.Duration
	counters     *counters

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:        queue,
		sink:         sink,
		name:         "worker",
		writeTimeout: defaultWriteTimeout,
		counters:     &counters{},
		done:         make(chan struct{}),
		logger:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.String("worker", w.name))
	return w
}

// Run starts the worker loop. Records still queued when the queue closes
// are written before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	records := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			w.write(ctx, rec)
		}
	}
}

// Shutdown waits for the worker to finish or ctx to expire. The queue must
// be closed first for the worker to finish on its own.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// write persists one record. Failures are logged and counted, never
// propagated.
func (w *InMemoryWorker) write(ctx context.Context, rec model.AuditRecord) { //nolint:gocritic // hugeParam: received by value from the channel
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	if err := w.sink.Append(wctx, rec); err != nil {
		w.counters.failed.Add(1)
		metrics.RecordAuditFailed()
		metrics.RecordErrorByComponent("audit", "sink_error")
		w.logger.Error(ctx, "audit write failed",
			logger.String("audit_id", rec.ID),
			logger.String("event_type", rec.EventType),
			logger.Error(err),
		)
		return
	}
	w.counters.written.Add(1)
	metrics.RecordAuditWritten()
}

// Pool manages multiple workers.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *counters
	logger   logger.Logger
}

// NewPool creates a pool of workerCount workers sharing queue and sink.
func NewPool(workerCount int, queue Queue, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	shared := &counters{}
	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		counters: shared,
		logger:   logger.NewNop(),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("audit-" + strconv.Itoa(i))}, opts...)
		workerOpts = append(workerOpts, withCounters(shared))
		pool.workers[i] = NewInMemoryWorker(queue, sink, workerOpts...)
	}
	probe := &InMemoryWorker{logger: pool.logger}
	for _, opt := range opts {
		opt(probe)
	}
	pool.logger = probe.logger

	metrics.UpdateAuditWorkers(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Written returns how many records reached the sink.
func (p *Pool) Written() int64 {
	return p.counters.written.Load()
}

// Failed returns how many records the sink rejected.
func (p *Pool) Failed() int64 {
	return p.counters.failed.Load()
}

// Shutdown closes the queue, lets the workers drain it and waits for them
// until ctx or the pool shutdown timeout expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for _, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			timedOut++
		}
	}
	metrics.UpdateAuditWorkers(0)
	if timedOut > 0 {
		return fmt.Errorf("%d audit workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
