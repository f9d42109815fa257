package attestation

import (
	"context"

	"biopass/internal/domain"
)

// Store owns Attestation rows: one per session, immutable once confirmed.
type Store interface {
	// Save persists a new attestation. Returns sentinel.ErrConflict when the
	// session already has one; that uniqueness backs the submit dedupe.
	Save(ctx context.Context, att domain.Attestation) error

	Get(ctx context.Context, id domain.AttestationID) (domain.Attestation, error)

	// FindBySession resolves the attestation for a session, if any.
	FindBySession(ctx context.Context, sessionID domain.SessionID) (domain.Attestation, error)

	// Update applies fn atomically with respect to concurrent Updates of the
	// same attestation. Confirmation polling is the only writer in practice,
	// but resubmission can race a late poll.
	Update(ctx context.Context, id domain.AttestationID, fn func(*domain.Attestation) error) (domain.Attestation, error)
}
