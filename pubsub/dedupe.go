package pubsub

import (
	"context"

	"github.com/infigaming-com/substreams-sink-pubsub/cache"
)

type dedupe struct {
	store  cache.Cache
	prefix string
	cfg    Dedupe
}

func newDedupe(cfg Dedupe, subscription string) *dedupe {
	store := cfg.Store
	if store == nil {
		store = cache.NewFreeCache(cfg.Size)
	}
	return &dedupe{store: store, prefix: cfg.Prefix + subscription + ":", cfg: cfg}
}

// seen records id and reports whether it was already recorded.
func (d *dedupe) seen(ctx context.Context, id string) (bool, error) {
	fresh, err := d.store.SetNX(ctx, d.prefix+id, "1", d.cfg.TTL)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (d *dedupe) forget(ctx context.Context, id string) error {
	return d.store.Delete(ctx, d.prefix+id)
}
