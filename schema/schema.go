// Package schema holds the publish protocol exchanged between a block-processing
// module and the pub/sub sink. It is the single, versioned definition of
// sf.substreams.sink.pubsub.v1; field numbers are part of the wire contract and
// must never change.
package schema

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/types/known/anypb"
)

const Package = "sf.substreams.sink.pubsub.v1"

const (
	AttributeTypeName         = Package + ".Attribute"
	MessageTypeName           = Package + ".Message"
	PublishOperationTypeName  = Package + ".PublishOperation"
	PublishOperationsTypeName = Package + ".PublishOperations"
	PublishTypeName           = Package + ".Publish"
	ConfigTypeName            = Package + ".Config"
	ServiceTypeName           = Package + ".Service"
)

var (
	ErrNilMessage          = errors.New("schema: message is nil")
	ErrNilOperation        = errors.New("schema: publish operation is nil")
	ErrEmptyTopic          = errors.New("schema: topic_id is empty")
	ErrEmptyPayload        = errors.New("schema: message carries neither data nor data_any")
	ErrPartialEnvelope     = errors.New("schema: data_any must carry both type_url and value")
	ErrEmptyAttributeKey   = errors.New("schema: attribute key is empty")
	ErrInvalidUTF8         = errors.New("schema: string field is not valid UTF-8")
	ErrOrderingKeyMismatch = errors.New("schema: message ordering_key differs from operation ordering_key")
)

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (a *Attribute) TypeName() string { return AttributeTypeName }

func (a *Attribute) Validate() error {
	if a.Key == "" {
		return ErrEmptyAttributeKey
	}
	if !utf8.ValidString(a.Key) || !utf8.ValidString(a.Value) {
		return fmt.Errorf("attribute %q: %w", a.Key, ErrInvalidUTF8)
	}
	return nil
}

// Message is one unit of payload. DataAny is the optional self-describing
// envelope; when it is set Data may be empty.
type Message struct {
	Data        []byte       `json:"data,omitempty"`
	Attributes  []*Attribute `json:"attributes,omitempty"`
	OrderingKey string       `json:"ordering_key,omitempty"`
	DataAny     *anypb.Any   `json:"data_any,omitempty"`
}

func (m *Message) TypeName() string { return MessageTypeName }

// HasEnvelope reports explicit presence of the typed envelope.
func (m *Message) HasEnvelope() bool {
	return m != nil && m.DataAny != nil
}

func (m *Message) Validate() error {
	if m == nil {
		return ErrNilMessage
	}
	if m.DataAny != nil {
		if m.DataAny.GetTypeUrl() == "" || len(m.DataAny.GetValue()) == 0 {
			return ErrPartialEnvelope
		}
	} else if len(m.Data) == 0 {
		return ErrEmptyPayload
	}
	if !utf8.ValidString(m.OrderingKey) {
		return fmt.Errorf("ordering_key: %w", ErrInvalidUTF8)
	}
	for i, attr := range m.Attributes {
		if attr == nil {
			return fmt.Errorf("attribute %d is nil", i)
		}
		if err := attr.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AttributeMap flattens the attributes; later keys win.
func (m *Message) AttributeMap() map[string]string {
	if m == nil || len(m.Attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Attributes))
	for _, attr := range m.Attributes {
		out[attr.Key] = attr.Value
	}
	return out
}

type PublishOperation struct {
	TopicID     string   `json:"topic_id"`
	OrderingKey string   `json:"ordering_key,omitempty"`
	Message     *Message `json:"message"`
}

func (o *PublishOperation) TypeName() string { return PublishOperationTypeName }

// Validate enforces the operation invariants. The operation-level ordering key
// is authoritative; a message that carries a different non-empty key is
// rejected rather than silently overridden.
func (o *PublishOperation) Validate() error {
	if o == nil {
		return ErrNilOperation
	}
	if o.TopicID == "" {
		return ErrEmptyTopic
	}
	if !utf8.ValidString(o.TopicID) || !utf8.ValidString(o.OrderingKey) {
		return ErrInvalidUTF8
	}
	if err := o.Message.Validate(); err != nil {
		return err
	}
	if o.OrderingKey != "" && o.Message.OrderingKey != "" && o.OrderingKey != o.Message.OrderingKey {
		return fmt.Errorf("%w: %q != %q", ErrOrderingKeyMismatch, o.Message.OrderingKey, o.OrderingKey)
	}
	return nil
}

// EffectiveOrderingKey returns the key a transport should use.
func (o *PublishOperation) EffectiveOrderingKey() string {
	if o.OrderingKey != "" {
		return o.OrderingKey
	}
	if o.Message != nil {
		return o.Message.OrderingKey
	}
	return ""
}

type PublishOperations struct {
	PublishOperations []*PublishOperation `json:"publish_operations"`
}

func (p *PublishOperations) TypeName() string { return PublishOperationsTypeName }

func (p *PublishOperations) Len() int {
	if p == nil {
		return 0
	}
	return len(p.PublishOperations)
}

func (p *PublishOperations) Validate() error {
	if p == nil {
		return nil
	}
	for i, op := range p.PublishOperations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("publish operation %d: %w", i, err)
		}
	}
	return nil
}

// ToPublish drops routing and returns the legacy single-topic form. Operation
// ordering keys are carried onto messages that have none.
func (p *PublishOperations) ToPublish() *Publish {
	out := &Publish{}
	if p == nil {
		return out
	}
	out.Messages = make([]*Message, 0, len(p.PublishOperations))
	for _, op := range p.PublishOperations {
		if op == nil || op.Message == nil {
			continue
		}
		msg := *op.Message
		if msg.OrderingKey == "" {
			msg.OrderingKey = op.OrderingKey
		}
		out.Messages = append(out.Messages, &msg)
	}
	return out
}

// Publish is the legacy variant without per-operation routing.
type Publish struct {
	Messages []*Message `json:"messages"`
}

func (p *Publish) TypeName() string { return PublishTypeName }

func (p *Publish) Validate() error {
	if p == nil {
		return nil
	}
	for i, msg := range p.Messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// Config is the per-deployment sink configuration declared in the manifest.
type Config struct {
	StartBlock  int64  `json:"start_block"`
	InputModule string `json:"input_module"`
}

func (c *Config) TypeName() string { return ConfigTypeName }

type Service struct {
	SinkConfig *Config `json:"sink_config,omitempty"`
}

func (s *Service) TypeName() string { return ServiceTypeName }

// HasSinkConfig reports explicit presence of the optional sink_config field.
func (s *Service) HasSinkConfig() bool {
	return s != nil && s.SinkConfig != nil
}
