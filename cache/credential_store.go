package cache

import (
	"context"
	"sync"

	"github.com/dranduil/wp-seo/domain"
)

// MemoryCredentialStore is a mutex-guarded credential repository for
// tests and single-node deployments without MongoDB.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]domain.Credential)}
}

// Get implements domain.CredentialRepository. A missing credential is
// reported as (nil, nil), not an error.
func (s *MemoryCredentialStore) Get(_ context.Context, tenantID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[tenantID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// Put implements domain.CredentialRepository.
func (s *MemoryCredentialStore) Put(_ context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.TenantID] = *cred
	return nil
}

// Delete implements domain.CredentialRepository. Idempotent.
func (s *MemoryCredentialStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, tenantID)
	return nil
}

var _ domain.CredentialRepository = (*MemoryCredentialStore)(nil)
