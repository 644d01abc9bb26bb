package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidLockKey  = errors.New("invalid lock key")
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLeaseLost       = errors.New("lease lost")
)

// Lease is a held lock. It expires unless extended.
type Lease interface {
	Key() string
	Until() time.Time
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

type Lock interface {
	Lock(ctx context.Context, key string, opts ...LockOption) (Lease, error)
	TryLock(ctx context.Context, key string, opts ...LockOption) (Lease, error)
}

type LockOptions struct {
	expiry     time.Duration
	retryDelay time.Duration
	retries    int
}

type LockOption func(*LockOptions)

func WithExpiry(expiry time.Duration) LockOption {
	return func(o *LockOptions) {
		o.expiry = expiry
	}
}

func WithRetryDelay(retryDelay time.Duration) LockOption {
	return func(o *LockOptions) {
		o.retryDelay = retryDelay
	}
}

func WithRetries(retries int) LockOption {
	return func(o *LockOptions) {
		o.retries = retries
	}
}

// KeepAlive extends lease every interval until ctx ends. The returned
// channel receives ErrLeaseLost (wrapping the cause) if an extension fails
// and is closed when KeepAlive stops.
func KeepAlive(ctx context.Context, lease Lease, interval time.Duration) <-chan error {
	lost := make(chan error, 1)
	go func() {
		defer close(lost)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					lost <- errors.Join(ErrLeaseLost, err)
					return
				}
			}
		}
	}()
	return lost
}

type nopLock struct{}

// Nop grants every lease. It stands in when no shared store is configured.
func Nop() Lock { return nopLock{} }

func (nopLock) Lock(_ context.Context, key string, _ ...LockOption) (Lease, error) {
	if key == "" {
		return nil, ErrInvalidLockKey
	}
	return nopLease(key), nil
}

func (l nopLock) TryLock(ctx context.Context, key string, opts ...LockOption) (Lease, error) {
	return l.Lock(ctx, key, opts...)
}

type nopLease string

func (l nopLease) Key() string                 { return string(l) }
func (nopLease) Until() time.Time              { return time.Time{} }
func (nopLease) Extend(context.Context) error  { return nil }
func (nopLease) Release(context.Context) error { return nil }
