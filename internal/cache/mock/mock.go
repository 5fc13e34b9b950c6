// Package mock provides an in-memory Cache for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pincrawl/pincrawl/internal/cache"
)

// Cache is an in-memory implementation of cache.Cache. TTLs are recorded
// but not enforced; tests assert on stored state directly.
type Cache struct {
	mu       sync.Mutex
	values   map[string][]byte
	notified map[string]struct{}
	credits  map[string]int64

	Err error
}

func New() *Cache {
	return &Cache{
		values:   make(map[string][]byte),
		notified: make(map[string]struct{}),
		credits:  make(map[string]int64),
	}
}

var _ cache.Cache = (*Cache)(nil)

func (c *Cache) Ping(ctx context.Context) error { return c.Err }

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.values[key] = append([]byte(nil), value...)
	return nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	v, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.values, key)
	return nil
}

func (c *Cache) MarkNotified(ctx context.Context, accountID, adID uuid.UUID, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	key := accountID.String() + ":" + adID.String()
	if _, ok := c.notified[key]; ok {
		return false, nil
	}
	c.notified[key] = struct{}{}
	return true, nil
}

func (c *Cache) AddCredits(ctx context.Context, job string, credits int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	c.credits[job] += int64(credits)
	return c.credits[job], nil
}

// Credits returns today's accumulated credits for job.
func (c *Cache) Credits(job string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credits[job]
}

// NotifiedCount returns how many (account, ad) pairs were recorded.
func (c *Cache) NotifiedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notified)
}

// WasNotified reports whether the pair was recorded.
func (c *Cache) WasNotified(accountID, adID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.notified[fmt.Sprintf("%s:%s", accountID, adID)]
	return ok
}
