// Package handler turns decoded block-level records into publish operations.
// Handlers are pure: the same input always yields byte-identical output, and
// any per-record failure fails the whole batch.
package handler

import (
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/publish"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

type Handler[T any] interface {
	Handle(input T) (*schema.PublishOperations, error)
}

type HandlerFunc[T any] func(input T) (*schema.PublishOperations, error)

func (f HandlerFunc[T]) Handle(input T) (*schema.PublishOperations, error) {
	return f(input)
}

// Pipeline is the generic shape of a handler: split the input into records,
// build attributes and payload per record, then route.
type Pipeline[T, R any] struct {
	Records    func(T) []R
	Attributes func(R) ([]*schema.Attribute, error)
	Payload    func(R) (publish.Payload, error)
	Router     publish.Router[R]
}

func (p Pipeline[T, R]) Handle(input T) (*schema.PublishOperations, error) {
	records := p.Records(input)
	if len(records) == 0 {
		return publish.Batch(nil), nil
	}

	msgs := make([]*schema.Message, 0, len(records))
	for i, record := range records {
		var attrs []*schema.Attribute
		if p.Attributes != nil {
			var err error
			if attrs, err = p.Attributes(record); err != nil {
				return nil, wrapRecord(i, err)
			}
		}
		payload, err := p.Payload(record)
		if err != nil {
			return nil, wrapRecord(i, err)
		}
		msg, err := publish.Assemble(payload, attrs, "")
		if err != nil {
			return nil, wrapRecord(i, err)
		}
		msgs = append(msgs, msg)
	}

	ops, err := p.Router.Route(records, msgs)
	if err != nil {
		return nil, err
	}
	return publish.Batch(ops), nil
}

// Legacy adapts a handler to the single-topic Publish form.
func Legacy[T any](h Handler[T]) HandlerFuncOf[T, *schema.Publish] {
	return func(input T) (*schema.Publish, error) {
		ops, err := h.Handle(input)
		if err != nil {
			return nil, err
		}
		return ops.ToPublish(), nil
	}
}

// HandlerFuncOf is a transform with an arbitrary output.
type HandlerFuncOf[T, O any] func(input T) (O, error)

// Map exposes a handler the way a block-processing module does: encoded input
// bytes in, canonical PublishOperations bytes out.
func Map[T any, PT envelope.Decodable[T]](h Handler[PT]) func([]byte) ([]byte, error) {
	return func(raw []byte) ([]byte, error) {
		input := PT(new(T))
		if err := input.Unmarshal(raw); err != nil {
			return nil, publish.EncodingFailure(err, "decode %s", input.TypeName())
		}
		ops, err := h.Handle(input)
		if err != nil {
			return nil, err
		}
		out, err := ops.Marshal()
		if err != nil {
			return nil, publish.EncodingFailure(err, "encode %s", ops.TypeName())
		}
		return out, nil
	}
}

// MapLegacy is Map for the Publish form.
func MapLegacy[T any, PT envelope.Decodable[T]](h Handler[PT]) func([]byte) ([]byte, error) {
	legacy := Legacy(h)
	return func(raw []byte) ([]byte, error) {
		input := PT(new(T))
		if err := input.Unmarshal(raw); err != nil {
			return nil, publish.EncodingFailure(err, "decode %s", input.TypeName())
		}
		out, err := legacy(input)
		if err != nil {
			return nil, err
		}
		b, err := out.Marshal()
		if err != nil {
			return nil, publish.EncodingFailure(err, "encode %s", out.TypeName())
		}
		return b, nil
	}
}
