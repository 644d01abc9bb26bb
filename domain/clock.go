// Package domain holds the decoded upstream records the transform handlers
// consume. Each record carries its own versioned schema name and canonical
// protobuf encoding so it can travel inside a typed envelope.
package domain

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/infigaming-com/substreams-sink-pubsub/internal/wire"
)

const ClockTypeName = "sf.substreams.v1.Clock"

// Clock identifies a block: sf.substreams.v1.Clock{id=1, number=2, timestamp=3}.
type Clock struct {
	ID        string    `json:"id"`
	Number    uint64    `json:"number"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Clock) TypeName() string { return ClockTypeName }

func (c *Clock) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, c.ID)
	enc.Uint64(2, c.Number)
	if !c.Timestamp.IsZero() {
		ts, err := proto.MarshalOptions{Deterministic: true}.Marshal(timestamppb.New(c.Timestamp))
		if err != nil {
			enc.Fail(fmt.Errorf("timestamp: %w", err))
		}
		enc.Embedded(3, ts)
	}
	return enc.Result()
}

func (c *Clock) Unmarshal(b []byte) error {
	*c = Clock{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			c.ID, err = f.Text()
		case 2:
			c.Number, err = f.Uint64()
		case 3:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			ts := &timestamppb.Timestamp{}
			if err = proto.Unmarshal(raw, ts); err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			if err = ts.CheckValid(); err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			c.Timestamp = ts.AsTime()
		}
		return err
	})
}

func (c *Clock) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("#%d (%s)", c.Number, c.ID)
}
