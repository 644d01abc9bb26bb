package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

var ErrClosed = errors.New("pubsub: client closed")

// Client publishes envelopes and runs subscriptions over one Transport.
type Client struct {
	transport Transport
	opts      options
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func New(ctx context.Context, transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("pubsub: transport required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		transport: transport,
		opts:      o,
		ctx:       clientCtx,
		cancel:    cancel,
		subs:      map[*subscription]struct{}{},
	}, nil
}

// Publish sends env to topic, retrying transient transport failures. The
// envelope is not modified; publish options apply to a copy.
func (c *Client) Publish(ctx context.Context, topic string, env *Envelope, opts ...PublishOption) (string, error) {
	if topic == "" {
		return "", ErrTopicRequired
	}
	if err := c.guard(); err != nil {
		return "", err
	}
	po := publishOptions{retry: c.opts.retry}
	for _, opt := range opts {
		opt(&po)
	}
	return c.publish(ctx, topic, po.apply(env), po.retry)
}

// PublishMessage publishes one protocol message.
func (c *Client) PublishMessage(ctx context.Context, topic string, msg *schema.Message, opts ...PublishOption) (string, error) {
	env, err := FromMessage(msg)
	if err != nil {
		return "", ErrPermanent(fmt.Errorf("pubsub: %w", err))
	}
	return c.Publish(ctx, topic, env, opts...)
}

func (po publishOptions) apply(env *Envelope) *Envelope {
	out := &Envelope{}
	if env != nil {
		*out = *env
	}
	attrs := cloneMap(po.attributes)
	for k, v := range out.Attributes {
		if attrs == nil {
			attrs = make(map[string]string, len(out.Attributes))
		}
		attrs[k] = v
	}
	out.Attributes = attrs
	if out.OrderingKey == "" {
		out.OrderingKey = po.orderingKey
	}
	return out
}

func (c *Client) publish(ctx context.Context, topic string, env *Envelope, policy RetryPolicy) (string, error) {
	attempts := 0
	id, err := cbackoff.Retry(ctx, func() (string, error) {
		attempts++
		id, err := c.transport.Publish(ctx, topic, env)
		if err != nil && isPermanent(err) {
			return "", cbackoff.Permanent(err)
		}
		return id, err
	},
		cbackoff.WithBackOff(policy.backOff()),
		cbackoff.WithMaxTries(uint(policy.MaxAttempts)),
		cbackoff.WithMaxElapsedTime(0),
		cbackoff.WithNotify(func(err error, delay time.Duration) {
			c.opts.logger.Debug(ctx, "publish retry", "topic", topic, "attempt", attempts, "delay", delay.String(), "err", err)
		}),
	)

	meta := PublishMetadata{ID: id, OrderingKey: env.OrderingKey, Attempts: attempts, Attributes: cloneMap(env.Attributes)}
	if err != nil {
		if c.opts.hooks.OnPublishFail != nil {
			c.opts.hooks.OnPublishFail(ctx, topic, meta, err)
		}
		return "", err
	}
	if c.opts.hooks.OnPublish != nil {
		c.opts.hooks.OnPublish(ctx, topic, meta)
	}
	return id, nil
}

// Subscribe starts delivering messages of subscription to handler until the
// subscription is stopped or the client shut down.
func (c *Client) Subscribe(subscription string, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if subscription == "" {
		return nil, errors.New("pubsub: subscription required")
	}
	if handler == nil {
		return nil, errors.New("pubsub: handler required")
	}
	settings := c.opts.receive
	for _, opt := range opts {
		opt(&settings)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	sub := newSubscription(c, subscription, handler, settings)
	c.subs[sub] = struct{}{}
	go sub.run()
	return sub, nil
}

// Shutdown stops every subscription and closes the transport.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	c.cancel()
	var errs []error
	for _, sub := range subs {
		if err := sub.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", sub.Name(), err))
		}
	}
	if err := c.transport.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Client) remove(sub *subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(context.Context, string, ...any) {}
func (NopLogger) Info(context.Context, string, ...any)  {}
func (NopLogger) Warn(context.Context, string, ...any)  {}
func (NopLogger) Error(context.Context, string, ...any) {}

func isPermanent(err error) bool {
	var perm permanentError
	return errors.As(err, &perm)
}
