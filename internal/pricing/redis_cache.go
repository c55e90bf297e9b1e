package pricing

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/redis"
)

// RedisCache shares pricing decisions between workers. Redis failures are
// treated as cache misses so pricing never depends on cache availability.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logg   *logger.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logg *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, logg: logg}
}

func (c *RedisCache) Get(ctx context.Context, key Key) (*Decision, bool) {
	raw, err := c.client.Get(ctx, c.client.PricingCacheKey(key.String()))
	if err != nil {
		if err != goredis.Nil && c.logg != nil {
			c.logg.Warn(ctx, "pricing cache read failed: "+err.Error())
		}
		return nil, false
	}
	var decision Decision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "pricing cache entry corrupted: "+err.Error())
		}
		c.Evict(ctx, key)
		return nil, false
	}
	return &decision, true
}

func (c *RedisCache) Put(ctx context.Context, key Key, decision *Decision) {
	if decision == nil {
		return
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "pricing cache encode failed: "+err.Error())
		}
		return
	}
	if err := c.client.Set(ctx, c.client.PricingCacheKey(key.String()), string(raw), c.ttl); err != nil && c.logg != nil {
		c.logg.Warn(ctx, "pricing cache write failed: "+err.Error())
	}
}

func (c *RedisCache) Evict(ctx context.Context, key Key) {
	if err := c.client.Del(ctx, c.client.PricingCacheKey(key.String())); err != nil && c.logg != nil {
		c.logg.Warn(ctx, "pricing cache evict failed: "+err.Error())
	}
}
