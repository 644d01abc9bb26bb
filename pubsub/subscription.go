package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/internal/worker"
)

// Attributes added to dead-lettered messages.
const (
	AttributeDeadLetterSource  = "dead_letter_source"
	AttributeDeadLetterMessage = "dead_letter_message_id"
	AttributeDeadLetterError   = "dead_letter_error"
)

type Subscription interface {
	Name() string
	Stop(ctx context.Context) error
	Health() SubscriptionHealth
}

type SubscriptionHealth struct {
	Subscription string
	Workers      int
	Queued       int
	Processed    int
	Duplicates   int
	Retried      int
	DeadLettered int
	LastError    string
	LastActivity time.Time
}

// subscription receives from the transport on one goroutine and hands each
// message to the pool lane of its ordering key, so a key is handled one
// message at a time in delivery order.
type subscription struct {
	name     string
	client   *Client
	settings ReceiveSettings
	handler  Handler
	pool     *worker.Pool
	dedupe   *dedupe

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	health SubscriptionHealth
}

func newSubscription(c *Client, name string, handler Handler, settings ReceiveSettings) *subscription {
	ctx, cancel := context.WithCancel(c.ctx)
	s := &subscription{
		name:     name,
		client:   c,
		settings: settings,
		handler:  handler,
		pool:     worker.New(settings.Workers, settings.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		health:   SubscriptionHealth{Subscription: name, Workers: settings.Workers},
	}
	if !settings.Dedupe.Disabled {
		s.dedupe = newDedupe(settings.Dedupe, name)
	}
	return s
}

func (s *subscription) Name() string { return s.name }

// run keeps the transport subscription alive, reconnecting with backoff,
// until the subscription is stopped.
func (s *subscription) run() {
	defer close(s.done)
	defer s.pool.Close()

	bo := s.client.opts.retry.backOff()
	for {
		err := s.client.transport.Subscribe(s.ctx, s.name, TransportSubscribeOptions{
			MaxExtension: s.settings.MaxExtension,
			Parallelism:  s.settings.Workers,
		}, s.receive)
		if err == nil || s.ctx.Err() != nil {
			return
		}
		if h := s.client.opts.hooks.OnConnectionErr; h != nil {
			h(s.ctx, s.name, err)
		}
		delay := bo.NextBackOff()
		s.client.opts.logger.Warn(s.ctx, "subscription reconnect", "subscription", s.name, "delay", delay.String(), "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *subscription) receive(ctx context.Context, raw *TransportMessage) error {
	if raw == nil {
		return nil
	}
	msg := newMessage(raw)
	hooks := s.client.opts.hooks

	if s.dedupe != nil && msg.ID() != "" {
		dup, err := s.dedupe.seen(ctx, msg.ID())
		if err != nil {
			s.client.opts.logger.Warn(ctx, "dedupe lookup failed", "subscription", s.name, "message", msg.ID(), "err", err)
		}
		if dup {
			s.record(func(h *SubscriptionHealth) { h.Duplicates++ })
			if hooks.OnDuplicate != nil {
				hooks.OnDuplicate(ctx, s.name, msg.metadata())
			}
			return msg.Ack()
		}
	}
	if hooks.OnReceive != nil {
		hooks.OnReceive(ctx, s.name, msg.metadata())
	}

	jobCtx, cancel := context.WithTimeout(s.ctx, s.settings.ProcessTimeout)
	err := s.pool.Submit(ctx, msg.OrderingKey(), func() {
		defer cancel()
		s.process(jobCtx, msg)
	})
	if err != nil {
		cancel()
		s.client.opts.logger.Warn(ctx, "message not scheduled", "subscription", s.name, "message", msg.ID(), "err", err)
		s.forget(msg.ID())
		_ = msg.Nack()
	}
	return nil
}

func (s *subscription) process(ctx context.Context, msg *Message) {
	err := s.handler.Handle(ctx, msg)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && err == nil {
		err = fmt.Errorf("handler timeout: %w", ctx.Err())
	}
	var perm permanentError
	switch {
	case err == nil:
		s.succeed(ctx, msg)
	case errors.As(err, &perm):
		s.deadLetter(ctx, msg, perm.Err)
	case msg.Attempt()+1 >= s.settings.MaxAttempts:
		s.deadLetter(ctx, msg, err)
	default:
		s.retry(ctx, msg, err)
	}
}

func (s *subscription) succeed(ctx context.Context, msg *Message) {
	if err := msg.Ack(); err != nil {
		s.client.opts.logger.Error(ctx, "ack failed", "subscription", s.name, "message", msg.ID(), "err", err)
	}
	s.record(func(h *SubscriptionHealth) { h.Processed++ })
	if h := s.client.opts.hooks.OnSuccess; h != nil {
		h(ctx, s.name, msg.metadata())
	}
}

func (s *subscription) retry(ctx context.Context, msg *Message, err error) {
	s.forget(msg.ID())
	if nackErr := msg.Nack(); nackErr != nil {
		s.client.opts.logger.Error(ctx, "nack failed", "subscription", s.name, "message", msg.ID(), "err", nackErr)
	}
	s.record(func(h *SubscriptionHealth) {
		h.Retried++
		h.LastError = err.Error()
	})
	if h := s.client.opts.hooks.OnRetry; h != nil {
		h(ctx, s.name, msg.metadata(), err)
	}
}

// deadLetter republishes the message untouched, so a typed envelope stays
// decodable, with its origin recorded in attributes, then acks it.
func (s *subscription) deadLetter(ctx context.Context, msg *Message, cause error) {
	s.client.opts.logger.Warn(ctx, "message failed permanently", "subscription", s.name, "message", msg.ID(), "err", cause)
	if topic := s.settings.DeadLetterTopic; topic != "" {
		_, err := s.client.Publish(context.WithoutCancel(ctx), topic, &Envelope{
			Data:        msg.Data(),
			Attributes:  msg.Attributes(),
			OrderingKey: msg.OrderingKey(),
		}, WithAttributes(map[string]string{
			AttributeDeadLetterSource:  s.name,
			AttributeDeadLetterMessage: msg.ID(),
			AttributeDeadLetterError:   cause.Error(),
		}))
		if err != nil {
			s.client.opts.logger.Error(ctx, "dead letter publish failed", "subscription", s.name, "message", msg.ID(), "err", err)
		}
	}
	if err := msg.Ack(); err != nil {
		s.client.opts.logger.Error(ctx, "ack failed", "subscription", s.name, "message", msg.ID(), "err", err)
	}
	s.record(func(h *SubscriptionHealth) {
		h.DeadLettered++
		h.LastError = cause.Error()
	})
	if h := s.client.opts.hooks.OnDeadLetter; h != nil {
		h(ctx, s.name, msg.metadata(), cause)
	}
}

// forget lets a redelivery of a nacked message through the dedupe window.
func (s *subscription) forget(id string) {
	if s.dedupe == nil || id == "" {
		return
	}
	if err := s.dedupe.forget(context.WithoutCancel(s.ctx), id); err != nil {
		s.client.opts.logger.Warn(s.ctx, "dedupe forget failed", "subscription", s.name, "message", id, "err", err)
	}
}

func (s *subscription) record(update func(*SubscriptionHealth)) {
	s.mu.Lock()
	update(&s.health)
	s.health.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *subscription) Health() SubscriptionHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health
	h.Queued = s.pool.Queued()
	return h
}

// Stop cancels the subscription and waits for in-flight handlers.
func (s *subscription) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.client.remove(s)
		return nil
	}
}
