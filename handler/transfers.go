package handler

import (
	"github.com/bytedance/sonic"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/publish"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

const DefaultTransfersTopic = "transfers"

// TransfersHandler publishes one message per transfer: the JSON document as
// data and the canonical from/to addresses as attributes.
type TransfersHandler struct {
	pipeline Pipeline[*domain.Transfers, *domain.Transfer]
}

func NewTransfersHandler(opts ...Option) *TransfersHandler {
	o := newOptions(DefaultTransfersTopic, opts)
	return &TransfersHandler{
		pipeline: Pipeline[*domain.Transfers, *domain.Transfer]{
			Records: func(in *domain.Transfers) []*domain.Transfer {
				if in == nil {
					return nil
				}
				return in.Transfers
			},
			Attributes: func(t *domain.Transfer) ([]*schema.Attribute, error) {
				if t == nil {
					return nil, publish.InvalidMessage(schema.ErrNilMessage, "transfer is nil")
				}
				return publish.TransferAttributes(t)
			},
			Payload: func(t *domain.Transfer) (publish.Payload, error) {
				return transferPayload(t, o.envelope)
			},
			Router: publish.Router[*domain.Transfer]{
				Topic:       publish.StaticTopic[*domain.Transfer](o.topic),
				OrderingKey: orderingKey(o, func(t *domain.Transfer) uint64 { return t.BlockNumber }),
			},
		},
	}
}

func (h *TransfersHandler) Handle(input *domain.Transfers) (*schema.PublishOperations, error) {
	return h.pipeline.Handle(input)
}

func transferPayload(t *domain.Transfer, withEnvelope bool) (publish.Payload, error) {
	if err := t.Validate(); err != nil {
		return publish.Payload{}, publish.EncodingFailure(err, "transfer %s", t.TrxHash)
	}
	data, err := sonic.ConfigStd.Marshal(t)
	if err != nil {
		return publish.Payload{}, publish.EncodingFailure(err, "transfer %s to json", t.TrxHash)
	}
	payload := publish.Raw(data)
	if withEnvelope {
		if payload.Envelope, err = envelope.EncodeValue(t); err != nil {
			return publish.Payload{}, publish.EncodingFailure(err, "transfer %s envelope", t.TrxHash)
		}
	}
	return payload, nil
}
