package domain

import "github.com/infigaming-com/substreams-sink-pubsub/envelope"

// Register adds the domain records to reg.
func Register(reg *envelope.Registry) error {
	if err := envelope.RegisterType[Clock](reg); err != nil {
		return err
	}
	if err := envelope.RegisterType[Transfer](reg); err != nil {
		return err
	}
	return envelope.RegisterType[Transfers](reg)
}
