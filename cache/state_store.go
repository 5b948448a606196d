// Package cache holds the in-memory implementations of the short-lived
// stores: authorization state nonces and, for tests and single-node
// deployments, credentials.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/dranduil/wp-seo/domain"
)

// MemoryStateStore keeps authorization nonces in a TTL cache. Consume
// is guarded by a mutex so a replayed callback racing the legitimate
// one can never both succeed.
type MemoryStateStore struct {
	mu      sync.Mutex
	nonces  *ttlcache.Cache[string, string] // nonce -> tenant
	pending *ttlcache.Cache[string, string] // tenant -> latest nonce
}

// NewMemoryStateStore creates a state store with automatic expiry.
func NewMemoryStateStore() *MemoryStateStore {
	nonces := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	pending := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go nonces.Start()
	go pending.Start()

	return &MemoryStateStore{nonces: nonces, pending: pending}
}

// Issue implements domain.StateStore.
func (s *MemoryStateStore) Issue(_ context.Context, nonce, tenantID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces.Set(nonce, tenantID, ttl)
	s.pending.Set(tenantID, nonce, ttl)
	return nil
}

// Consume implements domain.StateStore. The nonce is invalidated even
// before the caller inspects the result; a second Consume with the
// same nonce always reports ok=false.
func (s *MemoryStateStore) Consume(_ context.Context, nonce string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.nonces.Get(nonce)
	if item == nil {
		return "", false, nil
	}
	tenantID := item.Value()
	s.nonces.Delete(nonce)

	if p := s.pending.Get(tenantID); p != nil && p.Value() == nonce {
		s.pending.Delete(tenantID)
	}
	return tenantID, true, nil
}

// Pending implements domain.StateStore.
func (s *MemoryStateStore) Pending(_ context.Context, tenantID string) (bool, error) {
	return s.pending.Get(tenantID) != nil, nil
}

// Close stops the expiry goroutines.
func (s *MemoryStateStore) Close() {
	s.nonces.Stop()
	s.pending.Stop()
}

var _ domain.StateStore = (*MemoryStateStore)(nil)
