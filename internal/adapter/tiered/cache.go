// Package tiered implements a two-level (L1 + L2) cache adapter with
// single-flight fills.
package tiered

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/LaunchLoop/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels. L2 may be nil.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	group    singleflight.Group
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire controls how long L2 backfill entries live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}
	if c.l2 == nil {
		return nil, false, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}
	return nil, false, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Delete(ctx, key)
}

// GetOrFill returns the cached value for key, or runs fill once for all
// concurrent callers missing the same key and caches its result.
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func() ([]byte, error)) ([]byte, error) {
	if val, found, err := c.Get(ctx, key); err == nil && found {
		return val, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := fill()
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
