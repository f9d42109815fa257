package session

import (
	"context"
	"time"

	"biopass/internal/domain"
)

// Store owns VerificationSession state. Update is the only mutator and must
// be atomic per session: the two sub-verifier callbacks race on the same row
// and the decide-exactly-once invariant rides on this serialization.
type Store interface {
	Create(ctx context.Context, sess domain.VerificationSession) error

	Get(ctx context.Context, id domain.SessionID) (domain.VerificationSession, error)

	// Update loads the session, applies fn to a snapshot, and writes it back
	// atomically with respect to concurrent Updates of the same session. fn
	// must be pure state transition logic; it may be re-run on contention.
	// An error from fn aborts the write and is returned unchanged.
	Update(ctx context.Context, id domain.SessionID, fn func(*domain.VerificationSession) error) (domain.VerificationSession, error)

	// FindExpired returns ids of non-terminal sessions whose deadline passed
	// before cutoff, at most limit of them. The GC sweep uses this to catch
	// sessions whose in-process expiry timer was lost to a restart.
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.SessionID, error)
}
