package handler

import (
	"fmt"

	"github.com/infigaming-com/substreams-sink-pubsub/publish"
)

type keyMode int

const (
	keyNone keyMode = iota
	keyStatic
	keyBlockDecimal
	keyBlockFixed
)

type options struct {
	topic     string
	keyMode   keyMode
	staticKey string
	envelope  bool
}

type Option func(*options)

func WithTopic(topic string) Option {
	return func(o *options) {
		o.topic = topic
	}
}

// WithOrderingKey sets one ordering key for every operation.
func WithOrderingKey(key string) Option {
	return func(o *options) {
		o.keyMode = keyStatic
		o.staticKey = key
	}
}

// WithBlockOrdering keys operations by block number in base 10.
func WithBlockOrdering() Option {
	return func(o *options) {
		o.keyMode = keyBlockDecimal
	}
}

// WithFixedWidthBlockOrdering keys operations by the 16 hex digit big-endian
// block number.
func WithFixedWidthBlockOrdering() Option {
	return func(o *options) {
		o.keyMode = keyBlockFixed
	}
}

// WithEnvelope additionally attaches the typed envelope of each record.
func WithEnvelope() Option {
	return func(o *options) {
		o.envelope = true
	}
}

func newOptions(defaultTopic string, opts []Option) options {
	o := options{topic: defaultTopic}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func orderingKey[R any](o options, number func(R) uint64) publish.OrderingKeySelector[R] {
	switch o.keyMode {
	case keyStatic:
		return publish.StaticKey[R](o.staticKey)
	case keyBlockDecimal:
		return publish.DecimalKey(number)
	case keyBlockFixed:
		return publish.FixedWidthKey(number)
	default:
		return publish.Unordered[R]()
	}
}

func wrapRecord(index int, err error) error {
	return fmt.Errorf("record %d: %w", index, err)
}
