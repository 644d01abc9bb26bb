package inmem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/uid"
)

var ErrTopicNotFound = errors.New("inmem: topic not found")

// Published is one message accepted by Publish.
type Published struct {
	Topic    string
	Envelope pubsub.Envelope
}

// Transport is an in-process broker. Subscriptions are bound to topics with
// Bind; a subscription name that was never bound is treated as a topic name.
type Transport struct {
	ids uid.Generator

	mu        sync.RWMutex
	subs      map[string][]*subscription
	bindings  map[string]string
	topics    map[string]struct{}
	published []Published
}

type subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	msgs   chan *pubsub.TransportMessage
}

type Option func(*Transport)

// WithTopics restricts Publish to the named topics.
func WithTopics(topics ...string) Option {
	return func(t *Transport) {
		t.topics = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			t.topics[topic] = struct{}{}
		}
	}
}

func WithIDGenerator(gen uid.Generator) Option {
	return func(t *Transport) {
		t.ids = gen
	}
}

func New(opts ...Option) *Transport {
	t := &Transport{
		ids:      uid.NewUUIDV7(),
		subs:     map[string][]*subscription{},
		bindings: map[string]string{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Bind attaches a named subscription to a topic.
func (t *Transport) Bind(subscription, topic string) {
	t.mu.Lock()
	t.bindings[subscription] = topic
	t.mu.Unlock()
}

func (t *Transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) (string, error) {
	if topic == "" {
		return "", pubsub.ErrTopicRequired
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	id, err := t.ids.New()
	if err != nil {
		return "", fmt.Errorf("inmem: message id: %w", err)
	}
	msg := pubsub.Envelope{
		ID:          id,
		Data:        bytes.Clone(env.Data),
		Attributes:  maps.Clone(env.Attributes),
		OrderingKey: env.OrderingKey,
	}

	t.mu.Lock()
	if t.topics != nil {
		if _, ok := t.topics[topic]; !ok {
			t.mu.Unlock()
			return "", pubsub.ErrPermanent(fmt.Errorf("%w: %s", ErrTopicNotFound, topic))
		}
	}
	t.published = append(t.published, Published{Topic: topic, Envelope: copyEnvelope(msg)})
	subs := slices.Clone(t.subs[topic])
	t.mu.Unlock()

	now := time.Now()
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-sub.ctx.Done():
		case sub.msgs <- deliver(copyEnvelope(msg), now):
		}
	}
	return id, nil
}

// Published returns everything accepted so far, in publish order.
func (t *Transport) Published() []Published {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Published(nil), t.published...)
}

// Subscribe hands messages of the bound topic to handler one at a time until
// ctx ends, Close is called or handler fails.
func (t *Transport) Subscribe(ctx context.Context, name string, opts pubsub.TransportSubscribeOptions, handler pubsub.TransportHandler) error {
	if handler == nil {
		return errors.New("inmem: handler required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := &subscription{ctx: ctx, cancel: cancel, msgs: make(chan *pubsub.TransportMessage, max(opts.Parallelism, 1))}

	t.mu.Lock()
	topic := name
	if bound, ok := t.bindings[name]; ok {
		topic = bound
	}
	t.subs[topic] = append(t.subs[topic], sub)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.subs[topic] = slices.DeleteFunc(t.subs[topic], func(s *subscription) bool { return s == sub })
		if len(t.subs[topic]) == 0 {
			delete(t.subs, topic)
		}
		t.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-sub.msgs:
			if err := handler(ctx, m); err != nil {
				return err
			}
		}
	}
}

// Close cancels every running Subscribe.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	for _, subs := range t.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	clear(t.subs)
	t.mu.Unlock()
	return ctx.Err()
}

func copyEnvelope(env pubsub.Envelope) pubsub.Envelope {
	env.Data = bytes.Clone(env.Data)
	env.Attributes = maps.Clone(env.Attributes)
	return env
}

// deliver wraps env for one subscriber. Ack and Nack both just settle, there
// is no redelivery.
func deliver(env pubsub.Envelope, at time.Time) *pubsub.TransportMessage {
	var once sync.Once
	done := make(chan struct{})
	settle := func() error {
		once.Do(func() { close(done) })
		return nil
	}
	return &pubsub.TransportMessage{
		Envelope:   env,
		ReceivedAt: at,
		Ack:        settle,
		Nack:       settle,
		Extend:     func(time.Duration) error { return nil },
		Done:       done,
	}
}
