package repository

import "time"

// RetryOption applies a configuration option to a retrying store.
type RetryOption func(*RetryStore)

// WithMaxAttempts bounds how many times a conflicting Update is run.
func WithMaxAttempts(n int) RetryOption {
	return func(s *RetryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the delay before the first retry. Each further retry
// doubles it up to the max backoff.
func WithBaseBackoff(d time.Duration) RetryOption {
	return func(s *RetryStore) {
		if d >= 0 {
			s.baseBackoff = d
		}
	}
}

// WithMaxBackoff caps the delay between retries.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(s *RetryStore) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// WithStoreName labels conflict metrics with name.
func WithStoreName(name string) RetryOption {
	return func(s *RetryStore) {
		if name != "" {
			s.name = name
		}
	}
}
