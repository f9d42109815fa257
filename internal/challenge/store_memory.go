package challenge

import (
	"context"
	"sync"
	"time"

	"biopass/internal/domain"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// MemoryStore keeps challenges in process memory. Consume runs under the
// store mutex, which is what makes the consume-exactly-once invariant hold
// for concurrent callers.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[domain.ChallengeID]domain.Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[domain.ChallengeID]domain.Challenge)}
}

func (s *MemoryStore) Save(_ context.Context, ch domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.challenges[ch.ChallengeID]; exists {
		return sentinel.ErrConflict
	}
	s.challenges[ch.ChallengeID] = ch
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.challenges[id]; ok {
		return ch, nil
	}
	return domain.Challenge{}, sentinel.ErrNotFound
}

func (s *MemoryStore) Consume(ctx context.Context, id domain.ChallengeID) (domain.Challenge, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, sentinel.ErrNotFound
	}
	if ch.Consumed {
		return domain.Challenge{}, sentinel.ErrAlreadyConsumed
	}
	if ch.Expired(now) {
		return domain.Challenge{}, sentinel.ErrExpired
	}
	ch.Consumed = true
	s.challenges[id] = ch
	return ch, nil
}

func (s *MemoryStore) CountOutstanding(ctx context.Context, userID domain.UserID) (int, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ch := range s.challenges {
		if ch.UserID == userID && !ch.Consumed && !ch.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, ch := range s.challenges {
		if ch.Expired(now) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}
