package schema

import "github.com/infigaming-com/substreams-sink-pubsub/envelope"

// Register adds the publish protocol messages to reg so consumers can decode
// module outputs generically.
func Register(reg *envelope.Registry) error {
	for _, register := range []func(*envelope.Registry) error{
		envelope.RegisterType[PublishOperations, *PublishOperations],
		envelope.RegisterType[Publish, *Publish],
		envelope.RegisterType[Message, *Message],
		envelope.RegisterType[Service, *Service],
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}
