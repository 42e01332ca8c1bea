// Package dedupe tracks recently seen run keys so a replayed arcade
// submission is not processed twice.
package dedupe

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// defaultMaxSize bounds the number of remembered keys.
const defaultMaxSize = 50_000

// Deduper records seen keys to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so it can be retried. Used when processing failed
	// after the key was recorded.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// RunKey builds the dedupe key of an arcade run.
func RunKey(orgID, userID, questID, runID string) string {
	return strings.Join([]string{orgID, userID, questID, runID}, "/")
}

// inMemoryDeduper keeps keys in insertion order and evicts the oldest when
// full. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		if oldest := d.order.Front(); oldest != nil {
			delete(d.seen, oldest.Value.(string))
			d.order.Remove(oldest)
			d.size.Add(-1)
		}
	}
	d.seen[key] = d.order.PushBack(key)
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	d.order.Remove(el)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
