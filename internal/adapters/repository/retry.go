package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

// RetryStore decorates a PlayerStore so that Update reruns the whole
// read-compute-write when the commit loses an optimistic race.
type RetryStore struct {
	PlayerStore

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	name        string
}

// WithRetry wraps inner with conflict retries.
func WithRetry(inner PlayerStore, opts ...RetryOption) *RetryStore {
	s := &RetryStore{
		PlayerStore: inner,
		maxAttempts: 5,
		baseBackoff: 5 * time.Millisecond,
		maxBackoff:  250 * time.Millisecond,
		name:        "store",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update implements PlayerStore. fn may run more than once and must not
// have side effects outside the player it is given.
func (s *RetryStore) Update(ctx context.Context, orgID, userID string, fn func(*model.Player) error) (model.Player, error) {
	backoff := s.baseBackoff
	for attempt := 1; ; attempt++ {
		p, err := s.PlayerStore.Update(ctx, orgID, userID, fn)
		if !errors.Is(err, ErrConflict) {
			return p, err
		}
		if attempt >= s.maxAttempts {
			metrics.RecordTxRetriesExhausted(s.name)
			return model.Player{}, fmt.Errorf("update %s/%s after %d attempts: %w", orgID, userID, attempt, ErrRetriesExhausted)
		}

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return model.Player{}, ctx.Err()
			case <-timer.C:
			}
			backoff = min(backoff*2, s.maxBackoff)
		}
	}
}
