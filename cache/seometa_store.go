package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/dranduil/wp-seo/domain"
)

// MemorySeoMetaStore keeps SEO metadata in memory, for tests and
// deployments without MongoDB.
type MemorySeoMetaStore struct {
	mu    sync.RWMutex
	metas map[string]domain.SeoMeta // key: tenantID + "\x00" + postID
}

func NewMemorySeoMetaStore() *MemorySeoMetaStore {
	return &MemorySeoMetaStore{metas: make(map[string]domain.SeoMeta)}
}

func metaKey(tenantID, postID string) string {
	return tenantID + "\x00" + postID
}

func (s *MemorySeoMetaStore) Get(_ context.Context, tenantID, postID string) (*domain.SeoMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metas[metaKey(tenantID, postID)]
	if !ok {
		return nil, domain.ErrSeoMetaNotFound
	}
	return &meta, nil
}

func (s *MemorySeoMetaStore) Upsert(_ context.Context, meta *domain.SeoMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[metaKey(meta.TenantID, meta.PostID)] = *meta
	return nil
}

func (s *MemorySeoMetaStore) Delete(_ context.Context, tenantID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metas, metaKey(tenantID, postID))
	return nil
}

func (s *MemorySeoMetaStore) List(_ context.Context, tenantID string, limit int64) ([]*domain.SeoMeta, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	var metas []*domain.SeoMeta
	for _, meta := range s.metas {
		if meta.TenantID == tenantID {
			m := meta
			metas = append(metas, &m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool { return metas[i].PostID < metas[j].PostID })
	if int64(len(metas)) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

var _ domain.SeoMetaRepository = (*MemorySeoMetaStore)(nil)
