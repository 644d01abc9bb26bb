package handler

import (
	"encoding/binary"
	"errors"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/publish"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

const DefaultClocksTopic = "clocks"

// ClockHandler publishes one message per block: the big-endian block number
// as data and the clock itself as the typed envelope.
type ClockHandler struct {
	pipeline Pipeline[*domain.Clock, *domain.Clock]
}

func NewClockHandler(opts ...Option) *ClockHandler {
	o := newOptions(DefaultClocksTopic, opts)
	return &ClockHandler{
		pipeline: Pipeline[*domain.Clock, *domain.Clock]{
			Records: func(c *domain.Clock) []*domain.Clock {
				if c == nil {
					return nil
				}
				return []*domain.Clock{c}
			},
			Payload: clockPayload,
			Router: publish.Router[*domain.Clock]{
				Topic:       publish.StaticTopic[*domain.Clock](o.topic),
				OrderingKey: orderingKey(o, func(c *domain.Clock) uint64 { return c.Number }),
			},
		},
	}
}

func (h *ClockHandler) Handle(input *domain.Clock) (*schema.PublishOperations, error) {
	return h.pipeline.Handle(input)
}

// clockPayload leaves the envelope out for a clock that encodes to nothing
// (block 0 without id or timestamp); the data still carries the block number.
func clockPayload(c *domain.Clock) (publish.Payload, error) {
	payload := publish.Payload{Data: binary.BigEndian.AppendUint64(nil, c.Number)}
	env, err := envelope.EncodeValue(c)
	switch {
	case errors.Is(err, envelope.ErrEmptyValue):
	case err != nil:
		return publish.Payload{}, publish.EncodingFailure(err, "clock %d", c.Number)
	default:
		payload.Envelope = env
	}
	return payload, nil
}
