package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/infigaming-com/substreams-sink-pubsub/cache"
)

type cacheStore struct {
	cache cache.Cache
	key   string
}

// NewCacheStore keeps the cursor under key, without expiry. With a redis
// backed cache the cursor survives restarts and is shared by replicas.
func NewCacheStore(c cache.Cache, key string) Store {
	return &cacheStore{cache: c, key: key}
}

func (s *cacheStore) Load(ctx context.Context) (*Cursor, error) {
	c, err := cache.GetJSON[Cursor](ctx, s.cache, s.key)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cursor: load %s: %w", s.key, err)
	}
	return &c, nil
}

func (s *cacheStore) Save(ctx context.Context, c *Cursor) error {
	if c == nil {
		return errors.New("cursor: nil cursor")
	}
	if err := cache.SetJSON(ctx, s.cache, s.key, c, 0); err != nil {
		return fmt.Errorf("cursor: save %s: %w", s.key, err)
	}
	return nil
}
