package google

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
)

var ErrTopicNotFound = errors.New("googlepubsub: topic not found")

type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	Endpoint        string
	UserAgent       string
	// Client is used as is and never closed by the transport.
	Client *gcppubsub.Client
	Logger pubsub.Logger
	// Topics are resolved by New, which fails when one does not exist.
	Topics  []string
	Publish PublishSettings
	Receive ReceiveSettings
	// SkipTopicCheck disables the existence check on first use of a topic.
	SkipTopicCheck bool
}

// PublishSettings tune client side batching; zero fields keep the library
// defaults.
type PublishSettings struct {
	DelayThreshold time.Duration
	CountThreshold int
	ByteThreshold  int
}

type ReceiveSettings struct {
	NumGoroutines          int
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
	MaxExtension           time.Duration
}

type transport struct {
	cfg    Config
	client *gcppubsub.Client
	owned  bool

	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic
}

func New(ctx context.Context, cfg Config) (pubsub.Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = pubsub.NopLogger{}
	}
	t := &transport{cfg: cfg, client: cfg.Client, topics: map[string]*gcppubsub.Topic{}}
	if t.client == nil {
		client, err := dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		t.client, t.owned = client, true
	}
	for _, id := range cfg.Topics {
		if _, err := t.topic(ctx, id, true); err != nil {
			_ = t.Close(ctx)
			return nil, err
		}
	}
	return t, nil
}

func dial(ctx context.Context, cfg Config) (*gcppubsub.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("googlepubsub: project id required when client is not provided")
	}
	var opts []option.ClientOption
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}
	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("googlepubsub: create client: %w", err)
	}
	return client, nil
}

// topic returns the cached handle for id, creating it on first use. Message
// ordering has to be enabled before a handle publishes anything, so it is
// set here once.
func (t *transport) topic(ctx context.Context, id string, check bool) (*gcppubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if topic, ok := t.topics[id]; ok {
		return topic, nil
	}
	topic := t.client.Topic(id)
	if check {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("googlepubsub: topic %s: %w", id, err)
		}
		if !exists {
			return nil, pubsub.ErrPermanent(fmt.Errorf("%w: %s", ErrTopicNotFound, id))
		}
	}
	topic.EnableMessageOrdering = true
	if p := t.cfg.Publish; p.DelayThreshold > 0 {
		topic.PublishSettings.DelayThreshold = p.DelayThreshold
	}
	if p := t.cfg.Publish; p.CountThreshold > 0 {
		topic.PublishSettings.CountThreshold = p.CountThreshold
	}
	if p := t.cfg.Publish; p.ByteThreshold > 0 {
		topic.PublishSettings.ByteThreshold = p.ByteThreshold
	}
	t.topics[id] = topic
	return topic, nil
}

func (t *transport) Publish(ctx context.Context, topicID string, env *pubsub.Envelope) (string, error) {
	if topicID == "" {
		return "", pubsub.ErrTopicRequired
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	topic, err := t.topic(ctx, topicID, !t.cfg.SkipTopicCheck)
	if err != nil {
		return "", err
	}
	id, err := topic.Publish(ctx, &gcppubsub.Message{
		Data:        env.Data,
		Attributes:  env.Attributes,
		OrderingKey: env.OrderingKey,
	}).Get(ctx)
	if err != nil {
		// A failed ordered publish pauses its key until resumed.
		if env.OrderingKey != "" {
			topic.ResumePublish(env.OrderingKey)
		}
		return "", fmt.Errorf("googlepubsub: publish to %s: %w", topicID, err)
	}
	return id, nil
}

func (t *transport) receiveSettings(base gcppubsub.ReceiveSettings, opts pubsub.TransportSubscribeOptions) gcppubsub.ReceiveSettings {
	rs := t.cfg.Receive
	pick := func(dst *int, vals ...int) {
		for _, v := range vals {
			if v > 0 {
				*dst = v
			}
		}
	}
	pick(&base.NumGoroutines, rs.NumGoroutines, opts.Parallelism)
	pick(&base.MaxOutstandingMessages, rs.MaxOutstandingMessages)
	pick(&base.MaxOutstandingBytes, rs.MaxOutstandingBytes)
	for _, d := range []time.Duration{rs.MaxExtension, opts.MaxExtension} {
		if d > 0 {
			base.MaxExtension = d
		}
	}
	return base
}

// Subscribe blocks in Receive until ctx ends or handler fails; the first
// handler error or panic cancels the receive and is returned.
func (t *transport) Subscribe(ctx context.Context, subscription string, opts pubsub.TransportSubscribeOptions, handler pubsub.TransportHandler) error {
	if subscription == "" {
		return errors.New("googlepubsub: subscription required")
	}
	if handler == nil {
		return errors.New("googlepubsub: handler required")
	}
	sub := t.client.Subscription(subscription)
	sub.ReceiveSettings = t.receiveSettings(sub.ReceiveSettings, opts)

	recvCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	err := sub.Receive(recvCtx, func(msgCtx context.Context, m *gcppubsub.Message) {
		tm := delivered(m)
		defer func() {
			if r := recover(); r != nil {
				t.cfg.Logger.Error(msgCtx, "googlepubsub handler panic", "subscription", subscription, "panic", r)
				_ = tm.Nack()
				cancel(fmt.Errorf("googlepubsub: handler panic: %v", r))
			}
		}()
		if err := handler(msgCtx, tm); err != nil {
			cancel(err)
		}
	})

	if cause := context.Cause(recvCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func delivered(m *gcppubsub.Message) *pubsub.TransportMessage {
	var once sync.Once
	done := make(chan struct{})
	settle := func(fn func()) func() error {
		return func() error {
			once.Do(func() {
				fn()
				close(done)
			})
			return nil
		}
	}
	tm := &pubsub.TransportMessage{
		Envelope: pubsub.Envelope{
			ID:          m.ID,
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		},
		ReceivedAt: m.PublishTime,
		Ack:        settle(m.Ack),
		Nack:       settle(m.Nack),
		// The client library extends leases on its own up to MaxExtension.
		Extend: func(time.Duration) error { return nil },
		Done:   done,
	}
	if m.DeliveryAttempt != nil {
		tm.Attempt = *m.DeliveryAttempt
	}
	return tm
}

func (t *transport) Close(context.Context) error {
	t.mu.Lock()
	for id, topic := range t.topics {
		topic.Stop()
		delete(t.topics, id)
	}
	t.mu.Unlock()
	if t.owned {
		return t.client.Close()
	}
	return nil
}
