package credential

import (
	"context"
	"sync"

	"biopass/internal/domain"
	"biopass/pkg/requestcontext"
	"biopass/pkg/sentinel"
)

// MemoryStore keeps the registry in process memory. Used in tests and in
// single-instance deployments without Postgres configured.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.Credential
	byUser map[domain.UserID][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]domain.Credential),
		byUser: make(map[domain.UserID][]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, cred domain.Credential) error {
	key := domain.CredentialKey(cred.CredentialID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[key]; exists {
		return sentinel.ErrConflict
	}
	s.byID[key] = cred
	s.byUser[cred.UserID] = append(s.byUser[cred.UserID], key)
	return nil
}

func (s *MemoryStore) FindByCredentialID(_ context.Context, credentialID []byte) (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cred, ok := s.byID[domain.CredentialKey(credentialID)]; ok {
		return cred, nil
	}
	return domain.Credential{}, sentinel.ErrNotFound
}

func (s *MemoryStore) FindByUser(_ context.Context, userID domain.UserID) ([]domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byUser[userID]
	creds := make([]domain.Credential, 0, len(keys))
	for _, key := range keys {
		creds = append(creds, s.byID[key])
	}
	return creds, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, credentialID []byte) error {
	key := domain.CredentialKey(credentialID)

	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cred.RevokedAt != nil {
		return nil
	}
	now := requestcontext.Now(ctx)
	cred.RevokedAt = &now
	s.byID[key] = cred
	return nil
}
