// Package repository defines the player store, quest catalog and audit sink
// interfaces together with their in-memory implementations.
package repository

import (
	"context"

	"github.com/okian/bitgalaxy/internal/domain/model"
)

// PlayerStore provides read/write access to player progression records.
// Records are keyed by (orgID, userID).
type PlayerStore interface {
	// Get returns the stored player or ErrNotFound.
	Get(ctx context.Context, orgID, userID string) (model.Player, error)

	// Create inserts p if no record exists for its key. When a record already
	// exists it is returned unchanged with created=false, so concurrent
	// creators converge on the first write.
	Create(ctx context.Context, p model.Player) (stored model.Player, created bool, err error)

	// Update atomically applies fn to a private copy of the stored record and
	// commits the result. If fn returns an error nothing is written and the
	// error is returned as is. A concurrent commit between read and write
	// yields ErrConflict; callers retry via WithRetry.
	Update(ctx context.Context, orgID, userID string, fn func(*model.Player) error) (model.Player, error)

	// FindByContact returns the first player of orgID whose field equals value.
	FindByContact(ctx context.Context, orgID string, field ContactField, value string) (model.Player, error)
}

// QuestCatalog provides read access to quest definitions plus the
// insert-if-absent used to materialize arcade defaults.
type QuestCatalog interface {
	// GetQuest returns the quest or ErrNotFound.
	GetQuest(ctx context.Context, orgID, questID string) (model.Quest, error)

	// EnsureQuest stores q unless a definition with the same key exists and
	// returns the stored definition. created reports whether q was written.
	EnsureQuest(ctx context.Context, q model.Quest) (stored model.Quest, created bool, err error)
}

// AuditSink receives append-only audit records.
type AuditSink interface {
	Append(ctx context.Context, rec model.AuditRecord) error
}

// ContactField names a player attribute usable for contact lookups.
type ContactField string

// Contact fields accepted by FindByContact.
const (
	ContactEmail           ContactField = "email"
	ContactPhone           ContactField = "phone"
	ContactPhoneNormalized ContactField = "phoneNormalized"
	ContactPhoneDigits     ContactField = "phoneDigits"
)

// Valid reports whether f is one of the known contact fields.
func (f ContactField) Valid() bool {
	switch f {
	case ContactEmail, ContactPhone, ContactPhoneNormalized, ContactPhoneDigits:
		return true
	}
	return false
}

// Value extracts the field from p.
func (f ContactField) Value(p model.Player) string {
	switch f {
	case ContactEmail:
		return p.Email
	case ContactPhone:
		return p.Phone
	case ContactPhoneNormalized:
		return p.PhoneNormalized
	case ContactPhoneDigits:
		return p.PhoneDigits
	}
	return ""
}
