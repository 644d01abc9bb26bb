package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Cache is the small key/value contract shared by the subscription dedupe
// window and the cursor store. A zero expiry keeps the key forever.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiry time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// SetJSON stores v as a JSON document.
func SetJSON[T any](ctx context.Context, c Cache, key string, v T, expiry time.Duration) error {
	doc, err := sonic.ConfigStd.MarshalToString(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, doc, expiry)
}

func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var out T
	doc, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := sonic.ConfigStd.UnmarshalFromString(doc, &out); err != nil {
		return out, fmt.Errorf("%w %s: %v", ErrDecode, key, err)
	}
	return out, nil
}
