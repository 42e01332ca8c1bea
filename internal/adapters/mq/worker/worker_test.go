package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/bitgalaxy/internal/adapters/mq/queue"
	"github.com/okian/bitgalaxy/internal/adapters/mq/worker"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// mockSink records appended audit records and can fail selected ids.
type mockSink struct {
	mu      sync.Mutex
	records map[string]model.AuditRecord
	fail    map[string]bool
}

func newMockSink() *mockSink {
	return &mockSink{records: map[string]model.AuditRecord{}, fail: map[string]bool{}}
}

func (s *mockSink) Append(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[rec.ID] {
		return errors.New("sink unavailable")
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		sink := newMockSink()
		w := worker.NewInMemoryWorker(q, sink,
			worker.WithName("audit-test"),
			worker.WithLogger(logger.NewNop()),
			worker.WithWriteTimeout(time.Second),
		)
		go w.Run(ctx)

		convey.Convey("When records are queued", func() {
			for i := 0; i < 3; i++ {
				convey.So(q.Enqueue(ctx, model.AuditRecord{ID: fmt.Sprintf("r%d", i)}), convey.ShouldBeNil)
			}

			convey.Convey("Then they reach the sink", func() {
				convey.So(waitFor(func() bool { return sink.count() == 3 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the sink fails a record", func() {
			sink.fail["bad"] = true
			convey.So(q.Enqueue(ctx, model.AuditRecord{ID: "bad"}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, model.AuditRecord{ID: "good"}), convey.ShouldBeNil)

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return sink.count() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the queue is closed", func() {
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then the worker stops", func() {
				sctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})
	})

	convey.Convey("Given a worker whose context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockSink())
		go w.Run(ctx)
		cancel()

		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
	})

	convey.Convey("Given a worker that never stops", t, func() {
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockSink())
		go w.Run(context.Background())

		sctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := w.Shutdown(sctx)
		convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
		_ = q.Close()
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(500))
		sink := newMockSink()
		sink.fail["r7"] = true
		pool := worker.NewPool(4, q, sink, worker.WithLogger(logger.NewNop()))
		convey.So(pool.Size(), convey.ShouldEqual, 4)
		pool.Start(ctx)

		for i := 0; i < 100; i++ {
			convey.So(q.Enqueue(ctx, model.AuditRecord{ID: fmt.Sprintf("r%d", i)}), convey.ShouldBeNil)
		}

		convey.Convey("When the pool shuts down", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then every queued record was drained", func() {
				convey.So(sink.count(), convey.ShouldEqual, 99)
				convey.So(pool.Written(), convey.ShouldEqual, 99)
				convey.So(pool.Failed(), convey.ShouldEqual, 1)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("A non-positive worker count uses the default", t, func() {
		pool := worker.NewPool(0, queue.NewInMemoryQueue(), newMockSink())
		convey.So(pool.Size(), convey.ShouldEqual, 4)
	})
}
