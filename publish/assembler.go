package publish

import (
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

// Payload is what a message carries: raw bytes, a typed envelope, or both.
type Payload struct {
	Data     []byte
	Envelope *anypb.Any
}

func Raw(data []byte) Payload {
	return Payload{Data: data}
}

func Enveloped(env *anypb.Any) Payload {
	return Payload{Envelope: env}
}

func (p Payload) empty() bool {
	return len(p.Data) == 0 && p.Envelope == nil
}

// Assemble composes a message. An empty ordering key means "unordered".
func Assemble(payload Payload, attributes []*schema.Attribute, orderingKey string) (*schema.Message, error) {
	if payload.empty() {
		return nil, InvalidMessage(schema.ErrEmptyPayload, "assemble")
	}
	msg := &schema.Message{
		Data:        payload.Data,
		OrderingKey: orderingKey,
		DataAny:     payload.Envelope,
	}
	if len(attributes) > 0 {
		msg.Attributes = append(make([]*schema.Attribute, 0, len(attributes)), attributes...)
	}
	if err := msg.Validate(); err != nil {
		return nil, InvalidMessage(err, "assemble")
	}
	return msg, nil
}
