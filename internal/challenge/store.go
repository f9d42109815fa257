package challenge

import (
	"context"
	"time"

	"biopass/internal/domain"
)

// Store holds issued challenges until they are consumed or expire.
type Store interface {
	Save(ctx context.Context, ch domain.Challenge) error

	// Get returns the challenge without consuming it. Expired challenges may
	// already be gone; callers treat ErrNotFound and ErrExpired alike.
	Get(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error)

	// Consume atomically flips consumed false -> true. Exactly one of N
	// concurrent callers succeeds; the rest get sentinel.ErrAlreadyConsumed.
	// Expired challenges return sentinel.ErrExpired, unknown ones
	// sentinel.ErrNotFound.
	Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error)

	// CountOutstanding counts unconsumed, unexpired challenges for a user.
	CountOutstanding(ctx context.Context, userID domain.UserID) (int, error)

	// DeleteExpired garbage-collects challenges past their deadline.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
