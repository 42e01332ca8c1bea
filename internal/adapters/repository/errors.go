package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound            = errors.New("record not found")
	ErrConflict            = errors.New("concurrent modification")
	ErrInvalidContactField = errors.New("invalid contact field")
	ErrInvalidKey          = errors.New("invalid record key")

	// ErrRetriesExhausted wraps ErrConflict once WithRetry gives up.
	ErrRetriesExhausted = fmt.Errorf("%w: retries exhausted", ErrConflict)
)
