package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dranduil/wp-seo/domain"
)

// CredentialRepository persists OAuth credentials keyed by tenant.
// MongoDB guarantees single-document atomicity, which covers the
// per-tenant atomic put/delete contract: a replace either lands whole
// or not at all.
type CredentialRepository struct {
	coll *mongo.Collection
}

func NewCredentialRepository(db *mongo.Database) *CredentialRepository {
	return &CredentialRepository{coll: db.Collection(CredentialsCollection)}
}

// Get implements domain.CredentialRepository. A missing credential is
// (nil, nil), not an error.
func (r *CredentialRepository) Get(ctx context.Context, tenantID string) (*domain.Credential, error) {
	var cred domain.Credential
	err := r.coll.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	return &cred, nil
}

// Put implements domain.CredentialRepository.
func (r *CredentialRepository) Put(ctx context.Context, cred *domain.Credential) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"_id": cred.TenantID},
		cred,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Delete implements domain.CredentialRepository. Idempotent.
func (r *CredentialRepository) Delete(ctx context.Context, tenantID string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": tenantID}); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

var _ domain.CredentialRepository = (*CredentialRepository)(nil)
