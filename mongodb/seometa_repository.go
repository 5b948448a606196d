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

// SeoMetaRepository stores SEO metadata documents keyed by
// (tenant, post).
type SeoMetaRepository struct {
	coll *mongo.Collection
}

func NewSeoMetaRepository(db *mongo.Database) *SeoMetaRepository {
	return &SeoMetaRepository{coll: db.Collection(SeoMetaCollection)}
}

// EnsureIndexes creates the unique (tenant, post) index. Call once at
// startup.
func (r *SeoMetaRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "post_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *SeoMetaRepository) Get(ctx context.Context, tenantID, postID string) (*domain.SeoMeta, error) {
	var meta domain.SeoMeta
	err := r.coll.FindOne(ctx, bson.M{"tenant_id": tenantID, "post_id": postID}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSeoMetaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading seo metadata: %w", err)
	}
	return &meta, nil
}

func (r *SeoMetaRepository) Upsert(ctx context.Context, meta *domain.SeoMeta) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.M{"tenant_id": meta.TenantID, "post_id": meta.PostID},
		meta,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("storing seo metadata: %w", err)
	}
	return nil
}

func (r *SeoMetaRepository) Delete(ctx context.Context, tenantID, postID string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"tenant_id": tenantID, "post_id": postID}); err != nil {
		return fmt.Errorf("deleting seo metadata: %w", err)
	}
	return nil
}

func (r *SeoMetaRepository) List(ctx context.Context, tenantID string, limit int64) ([]*domain.SeoMeta, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor, err := r.coll.Find(ctx,
		bson.M{"tenant_id": tenantID},
		options.Find().SetLimit(limit).SetSort(bson.D{{Key: "post_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("listing seo metadata: %w", err)
	}
	defer cursor.Close(ctx)

	var metas []*domain.SeoMeta
	if err := cursor.All(ctx, &metas); err != nil {
		return nil, fmt.Errorf("listing seo metadata: %w", err)
	}
	return metas, nil
}

var _ domain.SeoMetaRepository = (*SeoMetaRepository)(nil)
