package schema

import (
	"fmt"

	"google.golang.org/protobuf/types/known/anypb"

	"github.com/infigaming-com/substreams-sink-pubsub/internal/wire"
)

func (a *Attribute) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, a.Key)
	enc.String(2, a.Value)
	return enc.Result()
}

func (a *Attribute) Unmarshal(b []byte) error {
	*a = Attribute{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			a.Key, err = f.Text()
		case 2:
			a.Value, err = f.Text()
		}
		return err
	})
}

func (m *Message) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.Bytes(1, m.Data)
	for i, attr := range m.Attributes {
		if attr == nil {
			enc.Fail(fmt.Errorf("schema: attribute %d is nil", i))
			break
		}
		enc.Message(2, attr, true)
	}
	enc.String(3, m.OrderingKey)
	if m.DataAny != nil {
		b, err := marshalAny(m.DataAny)
		if err != nil {
			enc.Fail(err)
		}
		enc.Embedded(4, b)
	}
	return enc.Result()
}

func (m *Message) Unmarshal(b []byte) error {
	*m = Message{}
	return wire.Decode(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			data, err := f.Bytes()
			if err != nil {
				return err
			}
			m.Data = data
		case 2:
			raw, err := f.Bytes()
			if err != nil {
				return err
			}
			attr := &Attribute{}
			if err := attr.Unmarshal(raw); err != nil {
				return fmt.Errorf("attributes: %w", err)
			}
			m.Attributes = append(m.Attributes, attr)
		case 3:
			key, err := f.Text()
			if err != nil {
				return err
			}
			m.OrderingKey = key
		case 4:
			raw, err := f.Bytes()
			if err != nil {
				return err
			}
			env, err := unmarshalAny(raw)
			if err != nil {
				return fmt.Errorf("data_any: %w", err)
			}
			m.DataAny = env
		}
		return nil
	})
}

func (o *PublishOperation) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, o.TopicID)
	enc.String(2, o.OrderingKey)
	enc.Message(3, o.Message, o.Message != nil)
	return enc.Result()
}

func (o *PublishOperation) Unmarshal(b []byte) error {
	*o = PublishOperation{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			o.TopicID, err = f.Text()
		case 2:
			o.OrderingKey, err = f.Text()
		case 3:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			o.Message = &Message{}
			if err = o.Message.Unmarshal(raw); err != nil {
				return fmt.Errorf("message: %w", err)
			}
		}
		return err
	})
}

func (p *PublishOperations) Marshal() ([]byte, error) {
	var enc wire.Encoder
	for i, op := range p.PublishOperations {
		if op == nil {
			enc.Fail(fmt.Errorf("schema: publish operation %d is nil", i))
			break
		}
		enc.Message(1, op, true)
	}
	return enc.Result()
}

func (p *PublishOperations) Unmarshal(b []byte) error {
	*p = PublishOperations{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		raw, err := f.Bytes()
		if err != nil {
			return err
		}
		op := &PublishOperation{}
		if err := op.Unmarshal(raw); err != nil {
			return fmt.Errorf("publish operation %d: %w", len(p.PublishOperations), err)
		}
		p.PublishOperations = append(p.PublishOperations, op)
		return nil
	})
}

func (p *Publish) Marshal() ([]byte, error) {
	var enc wire.Encoder
	for i, msg := range p.Messages {
		if msg == nil {
			enc.Fail(fmt.Errorf("schema: message %d is nil", i))
			break
		}
		enc.Message(1, msg, true)
	}
	return enc.Result()
}

func (p *Publish) Unmarshal(b []byte) error {
	*p = Publish{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		raw, err := f.Bytes()
		if err != nil {
			return err
		}
		msg := &Message{}
		if err := msg.Unmarshal(raw); err != nil {
			return fmt.Errorf("message %d: %w", len(p.Messages), err)
		}
		p.Messages = append(p.Messages, msg)
		return nil
	})
}

func (c *Config) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.Int64(1, c.StartBlock)
	enc.String(2, c.InputModule)
	return enc.Result()
}

func (c *Config) Unmarshal(b []byte) error {
	*c = Config{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			c.StartBlock, err = f.Int64()
		case 2:
			c.InputModule, err = f.Text()
		}
		return err
	})
}

func (s *Service) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.Message(1, s.SinkConfig, s.SinkConfig != nil)
	return enc.Result()
}

func (s *Service) Unmarshal(b []byte) error {
	*s = Service{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		raw, err := f.Bytes()
		if err != nil {
			return err
		}
		s.SinkConfig = &Config{}
		if err := s.SinkConfig.Unmarshal(raw); err != nil {
			return fmt.Errorf("sink_config: %w", err)
		}
		return nil
	})
}

// marshalAny writes google.protobuf.Any{type_url=1, value=2} by hand so the
// output does not depend on the runtime's map or field ordering choices.
func marshalAny(a *anypb.Any) ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, a.GetTypeUrl())
	enc.Bytes(2, a.GetValue())
	return enc.Result()
}

func unmarshalAny(b []byte) (*anypb.Any, error) {
	out := &anypb.Any{}
	err := wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			out.TypeUrl, err = f.Text()
		case 2:
			out.Value, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
