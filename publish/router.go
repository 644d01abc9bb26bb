package publish

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

// TopicSelector picks the topic for the record at index.
type TopicSelector[R any] func(index int, record R) (string, error)

// OrderingKeySelector picks the ordering key for the record at index; "" means
// unordered.
type OrderingKeySelector[R any] func(index int, record R) (string, error)

func StaticTopic[R any](topic string) TopicSelector[R] {
	return func(int, R) (string, error) { return topic, nil }
}

func Unordered[R any]() OrderingKeySelector[R] {
	return func(int, R) (string, error) { return "", nil }
}

func StaticKey[R any](key string) OrderingKeySelector[R] {
	return func(int, R) (string, error) { return key, nil }
}

// DecimalKey uses the record's block number in base 10.
func DecimalKey[R any](number func(R) uint64) OrderingKeySelector[R] {
	return func(_ int, record R) (string, error) {
		return strconv.FormatUint(number(record), 10), nil
	}
}

// FixedWidthKey uses the big-endian bytes of the block number as 16 hex digits,
// so keys sort textually in block order.
func FixedWidthKey[R any](number func(R) uint64) OrderingKeySelector[R] {
	return func(_ int, record R) (string, error) {
		return FixedWidth(number(record)), nil
	}
}

func FixedWidth(n uint64) string {
	return fmt.Sprintf("%016x", n)
}

// Router turns assembled messages into publish operations, one per message,
// in input order.
type Router[R any] struct {
	Topic       TopicSelector[R]
	OrderingKey OrderingKeySelector[R]
}

func (r Router[R]) Route(records []R, messages []*schema.Message) ([]*schema.PublishOperation, error) {
	if r.Topic == nil {
		return nil, InvalidOperation(schema.ErrEmptyTopic, "no topic selector")
	}
	if len(records) != len(messages) {
		return nil, InvalidOperation(nil, "%d records but %d messages", len(records), len(messages))
	}
	keyOf := r.OrderingKey
	if keyOf == nil {
		keyOf = Unordered[R]()
	}

	ops := make([]*schema.PublishOperation, 0, len(messages))
	for i, record := range records {
		msg := messages[i]
		if msg == nil {
			return nil, InvalidMessage(schema.ErrNilMessage, "record %d", i)
		}
		topic, err := r.Topic(i, record)
		if err != nil {
			return nil, InvalidOperation(err, "record %d topic", i)
		}
		if !utf8.ValidString(topic) {
			return nil, InvalidOperation(schema.ErrInvalidUTF8, "record %d topic", i)
		}
		key, err := keyOf(i, record)
		if err != nil {
			return nil, InvalidOperation(err, "record %d ordering key", i)
		}

		switch {
		case msg.OrderingKey == "" && key != "":
			cloned := *msg
			cloned.OrderingKey = key
			msg = &cloned
		case key == "":
			key = msg.OrderingKey
		}

		op := &schema.PublishOperation{TopicID: topic, OrderingKey: key, Message: msg}
		if err := op.Validate(); err != nil {
			return nil, classify(err, i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Batch wraps routed operations into the published structure.
func Batch(ops []*schema.PublishOperation) *schema.PublishOperations {
	return &schema.PublishOperations{PublishOperations: ops}
}

func classify(err error, index int) error {
	switch {
	case stderrors.Is(err, schema.ErrEmptyTopic),
		stderrors.Is(err, schema.ErrOrderingKeyMismatch),
		stderrors.Is(err, schema.ErrNilOperation):
		return InvalidOperation(err, "record %d", index)
	default:
		return InvalidMessage(err, "record %d", index)
	}
}
