package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

type redisLock struct {
	rs *redsync.Redsync
}

func defaultLockOptions() *LockOptions {
	return &LockOptions{
		expiry:     8 * time.Second,
		retryDelay: 50 * time.Millisecond,
		retries:    32,
	}
}

func NewRedisLock(client redis.UniversalClient) Lock {
	pool := goredis.NewPool(client)
	return &redisLock{rs: redsync.New(pool)}
}

type redisLease struct {
	key   string
	mutex *redsync.Mutex
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Until() time.Time { return l.mutex.Until() }

func (l *redisLease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("extend %s: %w", l.key, ErrLeaseLost)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("release %s: %w", l.key, ErrLeaseLost)
	}
	return nil
}

func (l *redisLock) Lock(ctx context.Context, key string, opts ...LockOption) (Lease, error) {
	options := defaultLockOptions()
	for _, opt := range opts {
		opt(options)
	}
	return l.acquire(ctx, key,
		redsync.WithExpiry(options.expiry),
		redsync.WithRetryDelay(options.retryDelay),
		redsync.WithTries(options.retries),
	)
}

func (l *redisLock) TryLock(ctx context.Context, key string, opts ...LockOption) (Lease, error) {
	options := defaultLockOptions()
	for _, opt := range opts {
		opt(options)
	}
	return l.acquire(ctx, key,
		redsync.WithExpiry(options.expiry),
		redsync.WithTries(1),
	)
}

func (l *redisLock) acquire(ctx context.Context, key string, opts ...redsync.Option) (Lease, error) {
	if key == "" {
		return nil, ErrInvalidLockKey
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mutex := l.rs.NewMutex(keyPrefix+key, opts...)
	if err := mutex.LockContext(ctx); err != nil {
		var errTaken *redsync.ErrTaken
		if errors.As(err, &errTaken) || errors.Is(err, redsync.ErrFailed) {
			return nil, ErrLockNotAcquired
		}
		return nil, err
	}
	return &redisLease{key: key, mutex: mutex}, nil
}
