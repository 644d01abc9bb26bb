package pubsub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

const (
	// AttributeTypeURL carries the type URL of a typed envelope.
	AttributeTypeURL = "type_url"
	// AttributeDataAny carries the base64 envelope value of a message that
	// also has data. Without data, the envelope value is the transport data.
	AttributeDataAny = "data_any"
)

var (
	ErrTopicRequired     = errors.New("pubsub: topic required")
	ErrReservedAttribute = errors.New("pubsub: attribute key is reserved")
)

// Transport represents a concrete broker implementation.
// Implementations must be safe for concurrent use.
type Transport interface {
	Publish(ctx context.Context, topic string, envelope *Envelope) (string, error)
	Subscribe(ctx context.Context, subscription string, opts TransportSubscribeOptions, handler TransportHandler) error
	Close(ctx context.Context) error
}

// Envelope holds the broker-facing message.
type Envelope struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
	Attempt     int
}

// FromMessage converts a protocol message into its broker form.
func FromMessage(msg *schema.Message) (*Envelope, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	env := &Envelope{
		Data:        msg.Data,
		OrderingKey: msg.OrderingKey,
	}
	if len(msg.Attributes) > 0 {
		env.Attributes = lo.SliceToMap(msg.Attributes, func(a *schema.Attribute) (string, string) {
			return a.Key, a.Value
		})
	}
	if msg.HasEnvelope() {
		for _, key := range []string{AttributeTypeURL, AttributeDataAny} {
			if _, ok := env.Attributes[key]; ok {
				return nil, fmt.Errorf("%w: %s", ErrReservedAttribute, key)
			}
		}
		if env.Attributes == nil {
			env.Attributes = make(map[string]string, 2)
		}
		env.Attributes[AttributeTypeURL] = msg.DataAny.GetTypeUrl()
		if len(msg.Data) == 0 {
			env.Data = msg.DataAny.GetValue()
		} else {
			env.Attributes[AttributeDataAny] = base64.StdEncoding.EncodeToString(msg.DataAny.GetValue())
		}
	}
	return env, nil
}

// FromOperation is FromMessage with the operation's ordering key applied.
func FromOperation(op *schema.PublishOperation) (*Envelope, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	env, err := FromMessage(op.Message)
	if err != nil {
		return nil, err
	}
	env.OrderingKey = op.EffectiveOrderingKey()
	return env, nil
}

// TransportMessage is passed from the transport to the library.
type TransportMessage struct {
	Envelope
	ReceivedAt time.Time
	Ack        func() error
	Nack       func() error
	Extend     func(deadline time.Duration) error
	Done       <-chan struct{}
}

// TransportHandler processes raw transport messages.
type TransportHandler func(context.Context, *TransportMessage) error

// TransportSubscribeOptions configures subscriptions at the transport level.
type TransportSubscribeOptions struct {
	MaxExtension time.Duration
	// Parallelism is how many messages the transport may hand over at once.
	Parallelism int
}
