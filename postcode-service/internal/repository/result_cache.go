package repository

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/toolhire/platform/shared/models"
	sharedredis "github.com/toolhire/platform/shared/redis"
)

const resultKeyPrefix = "postcode:result:"

// ResultCache keeps resolved validation results in Redis, keyed by the
// canonical postcode. Entries expire after the configured TTL; postcode
// assignments change rarely enough that expiry is the only invalidation.
type ResultCache struct {
	cache *sharedredis.ViewCache[models.ValidationResult]
}

func NewResultCache(redisClient goredis.Cmdable, ttl time.Duration) *ResultCache {
	return &ResultCache{
		cache: sharedredis.NewViewCache[models.ValidationResult](redisClient, resultKeyPrefix, ttl),
	}
}

func (c *ResultCache) Get(ctx context.Context, canonical string) (*models.ValidationResult, bool) {
	return c.cache.Get(ctx, canonical)
}

func (c *ResultCache) Put(ctx context.Context, canonical string, result *models.ValidationResult) {
	c.cache.Set(ctx, canonical, result)
}
