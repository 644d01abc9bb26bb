package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
)

// MinFreeCacheSize is the smallest arena freecache will allocate.
const MinFreeCacheSize = 512 * 1024

type freeCache struct {
	cache *freecache.Cache
}

// NewFreeCache wraps an in-process freecache arena of size bytes.
func NewFreeCache(size int) Cache {
	if size < MinFreeCacheSize {
		size = MinFreeCacheSize
	}
	return &freeCache{cache: freecache.NewCache(size)}
}

func ttlSeconds(expiry time.Duration) int {
	ttl := int(expiry.Seconds())
	if ttl <= 0 {
		return 0 // no expiry
	}
	return ttl
}

func (c *freeCache) Set(_ context.Context, key string, value string, expiry time.Duration) error {
	if err := c.cache.Set([]byte(key), []byte(value), ttlSeconds(expiry)); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *freeCache) SetNX(_ context.Context, key string, value string, expiry time.Duration) (bool, error) {
	prev, err := c.cache.GetOrSet([]byte(key), []byte(value), ttlSeconds(expiry))
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return prev == nil, nil
}

func (c *freeCache) Get(_ context.Context, key string) (string, error) {
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return string(data), nil
}

func (c *freeCache) Delete(_ context.Context, key string) error {
	c.cache.Del([]byte(key))
	return nil
}
