package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// MarkNotified records a delivered (account, ad) pair. Returns false when
	// the pair was already recorded within the TTL window, letting the
	// dispatcher shave the harmless re-delivery overlap between adjacent
	// watermark runs.
	MarkNotified(ctx context.Context, accountID, adID uuid.UUID, ttl time.Duration) (bool, error)
	// AddCredits accumulates retrieval credits spent today for a named job
	// and returns the running total.
	AddCredits(ctx context.Context, job string, credits int) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) MarkNotified(ctx context.Context, accountID, adID uuid.UUID, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, notifiedKey(accountID, adID), "1", ttl).Result()
}

func (c *RedisCache) AddCredits(ctx context.Context, job string, credits int) (int64, error) {
	key := creditsKey(job, time.Now().UTC())

	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, int64(credits))
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
