package sink

import (
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/lock"
	"github.com/infigaming-com/substreams-sink-pubsub/observability/metrics"
)

type Option func(*options)

type options struct {
	lg          *zap.Logger
	topics      []string
	legacyTopic string
	startBlock  uint64
	lock        lock.Lock
	leaseKey    string
	leaseTTL    time.Duration
	instruments *metrics.SinkInstruments
}

func defaultOptions() options {
	return options{
		lg:       zap.NewNop(),
		lock:     lock.Nop(),
		leaseKey: "substreams-sink-pubsub",
		leaseTTL: 10 * time.Second,
	}
}

func WithLogger(lg *zap.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.lg = lg
		}
	}
}

// WithTopics registers the topics operations may target. A block naming
// any other topic fails before anything is published. Without registered
// topics every topic is accepted and the transport decides.
func WithTopics(topics ...string) Option {
	return func(o *options) {
		o.topics = append(o.topics, topics...)
	}
}

// WithLegacyTopic accepts module output in the legacy Publish form and
// publishes its messages to topic. Without it such output fails the block.
func WithLegacyTopic(topic string) Option {
	return func(o *options) {
		o.legacyTopic = topic
	}
}

// WithStartBlock sets where a sink without a saved cursor begins.
func WithStartBlock(block uint64) Option {
	return func(o *options) {
		o.startBlock = block
	}
}

// WithLease makes Run hold key on l for as long as it runs, so only one
// writer publishes for a module at a time.
func WithLease(l lock.Lock, key string, ttl time.Duration) Option {
	return func(o *options) {
		if l != nil {
			o.lock = l
		}
		if key != "" {
			o.leaseKey = key
		}
		if ttl > 0 {
			o.leaseTTL = ttl
		}
	}
}

func WithInstruments(inst *metrics.SinkInstruments) Option {
	return func(o *options) {
		o.instruments = inst
	}
}
