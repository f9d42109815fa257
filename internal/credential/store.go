package credential

import (
	"context"

	"biopass/internal/domain"
)

// Store is the durable credential registry. Read by the device assertion
// verifier on every ceremony; written only by registration and revocation.
// Implementations must support concurrent readers with serialized writers per
// credential.
type Store interface {
	// Save persists a new credential. Returns sentinel.ErrConflict when the
	// credential ID is already registered.
	Save(ctx context.Context, cred domain.Credential) error

	// FindByCredentialID resolves a credential by its opaque ID. Revoked
	// credentials are returned with RevokedAt set; callers decide whether a
	// revoked credential is acceptable (the verifier never accepts one).
	FindByCredentialID(ctx context.Context, credentialID []byte) (domain.Credential, error)

	// FindByUser lists all credentials registered for a user, revoked
	// included.
	FindByUser(ctx context.Context, userID domain.UserID) ([]domain.Credential, error)

	// Revoke soft-deletes a credential. Idempotent: revoking an already
	// revoked credential is a no-op.
	Revoke(ctx context.Context, credentialID []byte) error
}
