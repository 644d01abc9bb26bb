package pubsub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
)

type Handler interface {
	Handle(context.Context, *Message) error
}

type HandlerFunc func(context.Context, *Message) error

func (f HandlerFunc) Handle(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

var ErrNoEnvelope = errors.New("pubsub: message has no type_url attribute")

type permanentError struct{ Err error }

func (p permanentError) Error() string { return p.Err.Error() }

func (p permanentError) Unwrap() error { return p.Err }

// ErrPermanent marks err as not worth retrying. A handler returning it has
// its message dead-lettered.
func ErrPermanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{Err: err}
}

// Message is a delivered message. Settling it more than once is a no-op.
type Message struct {
	env        Envelope
	receivedAt time.Time
	ack        func() error
	nack       func() error
	extend     func(time.Duration) error
	done       <-chan struct{}
	settle     sync.Once
}

func newMessage(src *TransportMessage) *Message {
	env := src.Envelope
	env.Attributes = cloneMap(src.Attributes)
	return &Message{
		env:        env,
		receivedAt: src.ReceivedAt,
		ack:        src.Ack,
		nack:       src.Nack,
		extend:     src.Extend,
		done:       src.Done,
	}
}

func (m *Message) ID() string { return m.env.ID }

func (m *Message) Attempt() int { return m.env.Attempt }

func (m *Message) OrderingKey() string { return m.env.OrderingKey }

func (m *Message) Attributes() map[string]string { return cloneMap(m.env.Attributes) }

func (m *Message) ReceivedAt() time.Time { return m.receivedAt }

func (m *Message) Data() []byte { return append([]byte(nil), m.env.Data...) }

// TypeURL returns the type URL of the typed envelope, if the message carries one.
func (m *Message) TypeURL() (string, bool) {
	url, ok := m.env.Attributes[AttributeTypeURL]
	return url, ok && url != ""
}

// Ack and Nack settle the message; only the first call reaches the transport.
func (m *Message) Ack() error { return m.settleWith(m.ack) }

func (m *Message) Nack() error { return m.settleWith(m.nack) }

func (m *Message) settleWith(fn func() error) error {
	var err error
	m.settle.Do(func() {
		if fn != nil {
			err = fn()
		}
	})
	return err
}

func (m *Message) Extend(deadline time.Duration) error {
	if m.extend == nil || deadline <= 0 {
		return nil
	}
	return m.extend(deadline)
}

func (m *Message) Done() <-chan struct{} { return m.done }

// DecodeJSON decodes a JSON payload, such as a transfer document.
func (m *Message) DecodeJSON(into any) error {
	if len(m.env.Data) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(m.env.Data, into)
}

// DecodeEnvelope recovers the typed value of an enveloped message. The value
// comes from the data_any attribute when present, otherwise from the data.
func (m *Message) DecodeEnvelope(reg *envelope.Registry) (any, error) {
	url, ok := m.TypeURL()
	if !ok {
		return nil, ErrNoEnvelope
	}
	value := m.env.Data
	if encoded, ok := m.env.Attributes[AttributeDataAny]; ok {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %s attribute: %w", AttributeDataAny, err)
		}
		value = raw
	}
	return reg.DecodeRaw(url, value)
}

func (m *Message) metadata() MessageMetadata {
	return MessageMetadata{
		ID:          m.env.ID,
		Attempt:     m.env.Attempt,
		OrderingKey: m.env.OrderingKey,
		Attributes:  cloneMap(m.env.Attributes),
	}
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(src))
	for k, v := range src {
		cloned[k] = v
	}
	return cloned
}
