package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

func newSession() domain.VerificationSession {
	now := time.Now().UTC()
	return domain.VerificationSession{
		SessionID:              domain.NewSessionID(),
		UserID:                 domain.NewUserID(),
		ChallengeID:            domain.NewChallengeID(),
		State:                  domain.StateAwaitingResults,
		DeviceAssertionOutcome: domain.OutcomePending,
		RecognitionOutcome:     domain.OutcomePending,
		CreatedAt:              now,
		ExpiresAt:              now.Add(time.Minute),
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := newSession()

	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	assert.ErrorIs(t, store.Create(ctx, sess), sentinel.ErrConflict)

	_, err = store.Get(ctx, domain.NewSessionID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStoreUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := newSession()
	require.NoError(t, store.Create(ctx, sess))

	_, err := store.Update(ctx, sess.SessionID, func(cur *domain.VerificationSession) error {
		cur.State = domain.StateDecided
		return sentinel.ErrTerminalState
	})
	require.ErrorIs(t, err, sentinel.ErrTerminalState)

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingResults, got.State)
}

// Concurrent transition functions racing to decide the same session: the
// store must serialize them so exactly one writer observes a non-terminal
// session and decides it.
func TestMemoryStoreUpdateDecidesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := newSession()
	require.NoError(t, store.Create(ctx, sess))

	const racers = 16
	decisions := []domain.Decision{domain.DecisionVerified, domain.DecisionRejected}
	var wg sync.WaitGroup
	errs := make([]error, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			decision := decisions[i%len(decisions)]
			_, errs[i] = store.Update(ctx, sess.SessionID, func(cur *domain.VerificationSession) error {
				if cur.Terminal() {
					return sentinel.ErrTerminalState
				}
				now := time.Now().UTC()
				cur.State = domain.StateDecided
				cur.Decision = decision
				cur.DecidedAt = &now
				return nil
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, sentinel.ErrTerminalState)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := store.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDecided, got.State)
	assert.NotNil(t, got.DecidedAt)
}

func TestMemoryStoreFindExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	overdue := newSession()
	overdue.ExpiresAt = now.Add(-time.Minute)
	live := newSession()
	terminal := newSession()
	terminal.ExpiresAt = now.Add(-time.Minute)
	terminal.State = domain.StateDecided

	require.NoError(t, store.Create(ctx, overdue))
	require.NoError(t, store.Create(ctx, live))
	require.NoError(t, store.Create(ctx, terminal))

	ids, err := store.FindExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, overdue.SessionID, ids[0])

	none, err := store.FindExpired(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
