package service

import (
	"errors"
	"fmt"

	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/domain/progression"
)

// Error kinds returned by the service. Callers branch with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
	ErrTransient     = errors.New("temporarily unavailable")
)

// Specific errors.
var (
	ErrPlayerNotFound  = fmt.Errorf("player %w", ErrNotFound)
	ErrQuestNotFound   = fmt.Errorf("quest %w", ErrNotFound)
	ErrUnauthenticated = fmt.Errorf("%w: no player session", ErrAuthorization)
	ErrSessionMismatch = fmt.Errorf("%w: session org does not match", ErrAuthorization)
	ErrDuplicateRun    = fmt.Errorf("%w: run already submitted", progression.ErrRejected)
)

// RejectionCode returns the machine code of a rejected run, or "" when err
// is not a rejection.
func RejectionCode(err error) string {
	if errors.Is(err, ErrDuplicateRun) {
		return "duplicate_run"
	}
	return progression.RejectionCode(err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError maps a storage failure onto the service error kinds.
func storeError(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, notFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	case errors.Is(err, repository.ErrInvalidKey):
		return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
