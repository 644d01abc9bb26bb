package pubsub

import "context"

// Logger is the structured logger the client and drivers report to. kv are
// alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Hooks observe the client. All are optional and must not block.
type Hooks struct {
	OnPublish     func(ctx context.Context, topic string, meta PublishMetadata)
	OnPublishFail func(ctx context.Context, topic string, meta PublishMetadata, err error)

	OnReceive    func(ctx context.Context, subscription string, meta MessageMetadata)
	OnDuplicate  func(ctx context.Context, subscription string, meta MessageMetadata)
	OnSuccess    func(ctx context.Context, subscription string, meta MessageMetadata)
	OnRetry      func(ctx context.Context, subscription string, meta MessageMetadata, err error)
	OnDeadLetter func(ctx context.Context, subscription string, meta MessageMetadata, err error)
	// OnConnectionErr fires before the subscription reconnects.
	OnConnectionErr func(ctx context.Context, subscription string, err error)
}

type MessageMetadata struct {
	ID          string
	Attempt     int
	OrderingKey string
	Attributes  map[string]string
}

type PublishMetadata struct {
	ID          string
	OrderingKey string
	Attempts    int
	Attributes  map[string]string
}
