package session

import (
	"context"
	"sync"
	"time"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

// MemoryStore keeps sessions in process memory. The store mutex serializes
// every Update, which is exactly the single-writer-per-session guarantee the
// reconciler needs; transition functions are quick so one lock is enough.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.VerificationSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[domain.SessionID]domain.VerificationSession)}
}

func (s *MemoryStore) Create(_ context.Context, sess domain.VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.SessionID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.SessionID) (domain.VerificationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	return domain.VerificationSession{}, sentinel.ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, id domain.SessionID, fn func(*domain.VerificationSession) error) (domain.VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.VerificationSession{}, sentinel.ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return domain.VerificationSession{}, err
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *MemoryStore) FindExpired(_ context.Context, cutoff time.Time, limit int) ([]domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []domain.SessionID
	for id, sess := range s.sessions {
		if sess.Terminal() || !sess.ExpiresAt.Before(cutoff) {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// Delete removes a session. Maintenance tooling only; the reconciler never
// deletes, terminal sessions stay queryable.
func (s *MemoryStore) Delete(_ context.Context, id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
