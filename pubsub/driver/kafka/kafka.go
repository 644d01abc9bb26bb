package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
)

// Transport publishes with a sync producer and consumes with one consumer
// group per subscription. The ordering key becomes the record key.
type Transport struct {
	cfg      Config
	lg       *zap.Logger
	producer sarama.SyncProducer
	newGroup func(groupID string) (sarama.ConsumerGroup, error)

	closeOnce sync.Once
}

func New(cfg Config, lg *zap.Logger) (*Transport, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	sc, err := cfg.saramaConfig(lg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return NewWithProducer(cfg, lg, sc, producer), nil
}

// NewWithProducer builds a transport around an existing producer.
func NewWithProducer(cfg Config, lg *zap.Logger, sc *sarama.Config, producer sarama.SyncProducer) *Transport {
	if lg == nil {
		lg = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if sc == nil {
		sc = sarama.NewConfig()
	}
	return &Transport{
		cfg:      cfg,
		lg:       lg,
		producer: producer,
		newGroup: func(groupID string) (sarama.ConsumerGroup, error) {
			return sarama.NewConsumerGroup(cfg.Brokers, groupID, sc)
		},
	}
}

func (t *Transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) (string, error) {
	if topic == "" {
		return "", pubsub.ErrTopicRequired
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(env.Data),
		Headers: headers(env.Attributes),
	}
	if env.OrderingKey != "" {
		msg.Key = sarama.StringEncoder(env.OrderingKey)
	}
	partition, offset, err := t.producer.SendMessage(msg)
	if err != nil {
		if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
			return "", pubsub.ErrPermanent(fmt.Errorf("kafka: publish %s: %w", topic, err))
		}
		return "", fmt.Errorf("kafka: publish %s: %w", topic, err)
	}
	return MessageID(topic, partition, offset), nil
}

func MessageID(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset)
}

func headers(attrs map[string]string) []sarama.RecordHeader {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}

// Subscribe consumes the subscription's topic with consumer group id equal
// to the subscription name until ctx is done or handler fails.
func (t *Transport) Subscribe(ctx context.Context, subscription string, _ pubsub.TransportSubscribeOptions, handler pubsub.TransportHandler) error {
	if subscription == "" {
		return errors.New("kafka: subscription required")
	}
	if handler == nil {
		return errors.New("kafka: handler required")
	}
	group, err := t.newGroup(subscription)
	if err != nil {
		return fmt.Errorf("kafka: consumer group %s: %w", subscription, err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			t.lg.Warn("close consumer group", zap.String("group", subscription), zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			t.lg.Error("consumer group error", zap.String("group", subscription), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := &groupHandler{handler: handler, cancel: cancel}
	topic := t.cfg.topicFor(subscription)
	for {
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return h.failure()
			}
			return fmt.Errorf("kafka: consume %s: %w", topic, err)
		}
		if err := h.failure(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (t *Transport) Close(context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.lg.Info("closing kafka producer",
			zap.Strings("brokers", t.cfg.Brokers),
			zap.String("client_id", t.cfg.ClientID))
		err = t.producer.Close()
	})
	return err
}

type groupHandler struct {
	handler pubsub.TransportHandler
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler(session.Context(), transportMessage(session, msg)); err != nil {
			h.fail(err)
			return err
		}
	}
	return nil
}

func (h *groupHandler) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *groupHandler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// transportMessage maps a record. Ack marks the offset; Kafka has no
// negative acknowledgement, so Nack leaves it unmarked for redelivery after
// the next rebalance.
func transportMessage(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) *pubsub.TransportMessage {
	var (
		once sync.Once
		done = make(chan struct{})
	)
	settle := func(mark bool) func() error {
		return func() error {
			once.Do(func() {
				if mark {
					session.MarkMessage(msg, "")
				}
				close(done)
			})
			return nil
		}
	}

	attrs := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		attrs[string(h.Key)] = string(h.Value)
	}
	return &pubsub.TransportMessage{
		Envelope: pubsub.Envelope{
			ID:          MessageID(msg.Topic, msg.Partition, msg.Offset),
			Data:        append([]byte(nil), msg.Value...),
			Attributes:  attrs,
			OrderingKey: string(msg.Key),
		},
		ReceivedAt: msg.Timestamp,
		Ack:        settle(true),
		Nack:       settle(false),
		Extend:     func(time.Duration) error { return nil },
		Done:       done,
	}
}
