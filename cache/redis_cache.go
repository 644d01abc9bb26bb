package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	DB             int           `mapstructure:"db"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// NewRedisClient connects and pings. The returned func closes the client.
func NewRedisClient(ctx context.Context, lg *zap.Logger, cfg RedisConfig) (*redis.Client, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	lg.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	return client, func() {
		if err := client.Close(); err != nil {
			lg.Warn("close redis", zap.String("addr", cfg.Addr), zap.Error(err))
			return
		}
		lg.Info("closed redis connection", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}, nil
}

type redisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Set(ctx context.Context, key string, value string, expiry time.Duration) error {
	return c.client.Set(ctx, key, value, expiry).Err()
}

func (c *redisCache) SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiry).Result()
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}

	return data, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
