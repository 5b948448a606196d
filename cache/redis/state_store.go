// Package redis implements the authorization state store on Redis for
// multi-node deployments, where the provider callback may land on a
// different instance than the one that issued the nonce.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dranduil/wp-seo/domain"
)

// StateStore implements domain.StateStore on a Redis client. Expiry is
// delegated to Redis key TTLs; single-use consumption relies on the
// atomicity of GETDEL.
type StateStore struct {
	client *redis.Client
	prefix string
}

func NewStateStore(client *redis.Client, prefix string) *StateStore {
	return &StateStore{client: client, prefix: prefix}
}

func (s *StateStore) nonceKey(nonce string) string {
	return fmt.Sprintf("%s:state:%s", s.prefix, nonce)
}

func (s *StateStore) pendingKey(tenantID string) string {
	return fmt.Sprintf("%s:pending:%s", s.prefix, tenantID)
}

// Issue implements domain.StateStore.
func (s *StateStore) Issue(ctx context.Context, nonce, tenantID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.nonceKey(nonce), tenantID, ttl)
	pipe.Set(ctx, s.pendingKey(tenantID), nonce, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing state nonce: %w", err)
	}
	return nil
}

// Consume implements domain.StateStore. GETDEL guarantees that of two
// concurrent callbacks replaying the same state, at most one sees the
// nonce.
func (s *StateStore) Consume(ctx context.Context, nonce string) (string, bool, error) {
	tenantID, err := s.client.GetDel(ctx, s.nonceKey(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consuming state nonce: %w", err)
	}

	// Clear the pending marker only if it still points at this nonce; a
	// newer authorization attempt may have replaced it.
	if current, err := s.client.Get(ctx, s.pendingKey(tenantID)).Result(); err == nil && current == nonce {
		_ = s.client.Del(ctx, s.pendingKey(tenantID)).Err()
	}
	return tenantID, true, nil
}

// Pending implements domain.StateStore.
func (s *StateStore) Pending(ctx context.Context, tenantID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.pendingKey(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking pending state: %w", err)
	}
	return n > 0, nil
}

var _ domain.StateStore = (*StateStore)(nil)
