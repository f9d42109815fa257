package attestation

import (
	"context"
	"sync"

	"biopass/internal/domain"
	"biopass/pkg/sentinel"
)

type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[domain.AttestationID]domain.Attestation
	bySession map[domain.SessionID]domain.AttestationID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[domain.AttestationID]domain.Attestation),
		bySession: make(map[domain.SessionID]domain.AttestationID),
	}
}

func (s *MemoryStore) Save(_ context.Context, att domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySession[att.SessionID]; exists {
		return sentinel.ErrConflict
	}
	s.byID[att.AttestationID] = att
	s.bySession[att.SessionID] = att.AttestationID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.AttestationID) (domain.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if att, ok := s.byID[id]; ok {
		return att, nil
	}
	return domain.Attestation{}, sentinel.ErrNotFound
}

func (s *MemoryStore) FindBySession(_ context.Context, sessionID domain.SessionID) (domain.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.bySession[sessionID]; ok {
		return s.byID[id], nil
	}
	return domain.Attestation{}, sentinel.ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, id domain.AttestationID, fn func(*domain.Attestation) error) (domain.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.byID[id]
	if !ok {
		return domain.Attestation{}, sentinel.ErrNotFound
	}
	if err := fn(&att); err != nil {
		return domain.Attestation{}, err
	}
	s.byID[id] = att
	return att, nil
}
