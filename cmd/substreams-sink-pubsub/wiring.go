package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/cache"
	"github.com/infigaming-com/substreams-sink-pubsub/config"
	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/logging"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/google"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/inmem"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/kafka"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

func newTransport(ctx context.Context, cfg *config.Config, lg *zap.Logger) (pubsub.Transport, error) {
	switch cfg.Transport {
	case config.TransportGoogle:
		gcfg := google.Config{
			ProjectID: cfg.Google.ProjectID,
			Endpoint:  cfg.Google.Endpoint,
			UserAgent: "substreams-sink-pubsub/" + version,
			Logger:    logging.PubsubLogger(lg),
			Topics:    cfg.Topics,
		}
		if cfg.Google.CredentialsFile != "" {
			creds, err := os.ReadFile(cfg.Google.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("read google credentials: %w", err)
			}
			gcfg.CredentialsJSON = creds
		}
		return google.New(ctx, gcfg)
	case config.TransportKafka:
		return kafka.New(cfg.Kafka, lg)
	case config.TransportInmem:
		return inmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newClient(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*pubsub.Client, error) {
	transport, err := newTransport(ctx, cfg, lg)
	if err != nil {
		return nil, err
	}
	return pubsub.New(ctx, transport,
		pubsub.WithLogger(logging.PubsubLogger(lg)),
		pubsub.WithHooks(pubsub.Hooks{
			OnPublishFail: func(ctx context.Context, topic string, meta pubsub.PublishMetadata, err error) {
				logging.FromContext(ctx, lg).Warn("publish failed",
					zap.String("topic", topic),
					zap.String("ordering_key", meta.OrderingKey),
					zap.Int("attempts", meta.Attempts),
					zap.Error(err))
			},
		}),
	)
}

// redisClient connects lazily; the returned close func is a no-op when
// nothing needed redis.
type redisClient struct {
	ctx    context.Context
	lg     *zap.Logger
	cfg    cache.RedisConfig
	client *redis.Client
	close  func()
}

func (r *redisClient) get() (*redis.Client, error) {
	if r.client != nil {
		return r.client, nil
	}
	client, closeFn, err := cache.NewRedisClient(r.ctx, r.lg, r.cfg)
	if err != nil {
		return nil, err
	}
	r.client, r.close = client, closeFn
	return client, nil
}

func (r *redisClient) Close() {
	if r.close != nil {
		r.close()
	}
}

func newCursorStore(ctx context.Context, cfg *config.Config, rc *redisClient) (cursor.Store, error) {
	switch cfg.Cursor.Backend {
	case config.CursorFile:
		return cursor.NewFileStore(cfg.Cursor.Path), nil
	case config.CursorRedis:
		client, err := rc.get()
		if err != nil {
			return nil, err
		}
		return cursor.NewCacheStore(cache.NewRedisCache(client), cfg.Cursor.Key), nil
	case config.CursorS3:
		client, err := cursor.NewS3Client(ctx, cfg.Cursor.S3)
		if err != nil {
			return nil, err
		}
		return cursor.NewS3Store(client, cfg.Cursor.S3.Bucket, cfg.Cursor.S3.Key)
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", cfg.Cursor.Backend)
	}
}
