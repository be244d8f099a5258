package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/infra/memory"
	"practice-progress-service/internal/logger"
)

// CatalogKey holds the JSON-encoded catalog shared by all instances.
const CatalogKey = "achievements:catalog"

// CatalogRepository caches the achievement catalog in Redis and falls back to
// a loader on cache miss. A broken cache degrades to the loader.
type CatalogRepository struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	log    *logger.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCatalogRepository(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration, log *logger.Logger) *CatalogRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &CatalogRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) GetCatalog(ctx context.Context) ([]domain.AchievementDefinition, error) {
	if defs, ok := r.cached(ctx); ok {
		return defs, nil
	}

	result, err, _ := r.sf.Do(CatalogKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if defs, ok := r.cached(ctx); ok {
			return defs, nil
		}

		defs, err := r.loader.LoadCatalog(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(defs)
		if err == nil {
			err = r.client.Set(ctx, CatalogKey, raw, r.ttlWithJitter()).Err()
		}
		if err != nil {
			r.log.Warn("catalog cache write failed", "error", err)
		}
		return defs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.AchievementDefinition), nil
}

// Invalidate removes the shared cache entry.
func (r *CatalogRepository) Invalidate(ctx context.Context) error {
	return r.client.Del(ctx, CatalogKey).Err()
}

func (r *CatalogRepository) cached(ctx context.Context) ([]domain.AchievementDefinition, bool) {
	raw, err := r.client.Get(ctx, CatalogKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("catalog cache read failed", "error", err)
		}
		return nil, false
	}
	var defs []domain.AchievementDefinition
	if err := json.Unmarshal(raw, &defs); err != nil {
		r.log.Warn("catalog cache entry is corrupt", "error", err)
		return nil, false
	}
	return defs, true
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
