package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"practice-progress-service/internal/domain"
)

// CatalogLoader fetches the achievement catalog from a backing store (e.g., Postgres).
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) ([]domain.AchievementDefinition, error)
}

const catalogKey = "catalog"

// CatalogRepository caches the catalog with TTL to avoid a DB hit per completion.
type CatalogRepository struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu     sync.RWMutex
	cached []domain.AchievementDefinition
	expiry time.Time
}

func NewCatalogRepository(loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) GetCatalog(ctx context.Context) ([]domain.AchievementDefinition, error) {
	if defs, ok := r.fresh(r.clock()); ok {
		return defs, nil
	}

	result, err, _ := r.sf.Do(catalogKey, func() (interface{}, error) {
		now := r.clock()
		if defs, ok := r.fresh(now); ok {
			return defs, nil
		}

		defs, err := r.loader.LoadCatalog(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cached = defs
		r.expiry = now.Add(r.ttlWithJitter())
		r.mu.Unlock()
		return defs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.AchievementDefinition), nil
}

// Invalidate drops the cached catalog so the next read hits the loader.
func (r *CatalogRepository) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.expiry = time.Time{}
	r.mu.Unlock()
}

func (r *CatalogRepository) fresh(now time.Time) ([]domain.AchievementDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached != nil && r.expiry.After(now) {
		return r.cached, true
	}
	return nil, false
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticCatalogLoader serves a fixed catalog (useful for tests/demos).
type StaticCatalogLoader struct {
	defs []domain.AchievementDefinition
}

func NewStaticCatalogLoader(defs []domain.AchievementDefinition) *StaticCatalogLoader {
	return &StaticCatalogLoader{defs: defs}
}

func (l *StaticCatalogLoader) LoadCatalog(context.Context) ([]domain.AchievementDefinition, error) {
	out := make([]domain.AchievementDefinition, len(l.defs))
	copy(out, l.defs)
	return out, nil
}
