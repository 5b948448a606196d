package domain

import (
	"context"
	"time"
)

// CredentialRepository persists one Credential per tenant. Put and
// Delete must be atomic per tenant; concurrent writers for the same
// tenant must not interleave partial documents.
type CredentialRepository interface {
	// Get returns the tenant's credential, or (nil, nil) when the tenant
	// has never connected or has been disconnected.
	Get(ctx context.Context, tenantID string) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
	// Delete removes the tenant's credential. Deleting a missing
	// credential is not an error.
	Delete(ctx context.Context, tenantID string) error
}

// SeoMetaRepository stores SEO metadata keyed by (tenant, post).
type SeoMetaRepository interface {
	Get(ctx context.Context, tenantID, postID string) (*SeoMeta, error)
	Upsert(ctx context.Context, meta *SeoMeta) error
	Delete(ctx context.Context, tenantID, postID string) error
	List(ctx context.Context, tenantID string, limit int64) ([]*SeoMeta, error)
}

// StateStore tracks outstanding authorization state nonces. A nonce is
// issued when an authorization URL is built and consumed exactly once
// when the provider calls back; consumption must be atomic so a
// replayed callback can never be accepted twice.
type StateStore interface {
	// Issue records a nonce for the tenant with the given lifetime.
	Issue(ctx context.Context, nonce, tenantID string, ttl time.Duration) error
	// Consume atomically retrieves and invalidates the nonce, returning
	// the tenant it was issued for. ok is false when the nonce is
	// unknown, expired, or already consumed.
	Consume(ctx context.Context, nonce string) (tenantID string, ok bool, err error)
	// Pending reports whether the tenant has an outstanding, unexpired
	// authorization attempt.
	Pending(ctx context.Context, tenantID string) (bool, error)
}
