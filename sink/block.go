package sink

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/anypb"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/internal/wire"
)

// BlockScopedData is one block of module output:
// {output=1 Any, clock=2 Clock, cursor=3, final_block_height=4}.
type BlockScopedData struct {
	Output           *anypb.Any
	Clock            *domain.Clock
	Cursor           string
	FinalBlockHeight uint64
}

// BlockUndoSignal rewinds the stream to the last valid block:
// {last_valid_block=1 BlockRef{id=1, number=2}, last_valid_cursor=2}.
type BlockUndoSignal struct {
	LastValidBlockID     string
	LastValidBlockNumber uint64
	LastValidCursor      string
}

// Response carries exactly one of its fields:
// {block_scoped_data=1, block_undo_signal=2}.
type Response struct {
	BlockScopedData *BlockScopedData
	BlockUndoSignal *BlockUndoSignal
}

var errEmptyResponse = errors.New("sink: response carries neither data nor undo signal")

type rawAny struct{ *anypb.Any }

func (a rawAny) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, a.GetTypeUrl())
	enc.Bytes(2, a.GetValue())
	return enc.Result()
}

func (d *BlockScopedData) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.Message(1, rawAny{d.Output}, d.Output != nil)
	enc.Message(2, d.Clock, d.Clock != nil)
	enc.String(3, d.Cursor)
	enc.Uint64(4, d.FinalBlockHeight)
	return enc.Result()
}

func (d *BlockScopedData) Unmarshal(b []byte) error {
	*d = BlockScopedData{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			d.Output = &anypb.Any{}
			err = wire.Decode(raw, func(f wire.Field) (err error) {
				switch f.Num {
				case 1:
					d.Output.TypeUrl, err = f.Text()
				case 2:
					d.Output.Value, err = f.Bytes()
				}
				return err
			})
		case 2:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			d.Clock = &domain.Clock{}
			err = d.Clock.Unmarshal(raw)
		case 3:
			d.Cursor, err = f.Text()
		case 4:
			d.FinalBlockHeight, err = f.Uint64()
		}
		return err
	})
}

type blockRef struct {
	id     string
	number uint64
}

func (r blockRef) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, r.id)
	enc.Uint64(2, r.number)
	return enc.Result()
}

func (u *BlockUndoSignal) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.Message(1, blockRef{id: u.LastValidBlockID, number: u.LastValidBlockNumber}, true)
	enc.String(2, u.LastValidCursor)
	return enc.Result()
}

func (u *BlockUndoSignal) Unmarshal(b []byte) error {
	*u = BlockUndoSignal{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			err = wire.Decode(raw, func(f wire.Field) (err error) {
				switch f.Num {
				case 1:
					u.LastValidBlockID, err = f.Text()
				case 2:
					u.LastValidBlockNumber, err = f.Uint64()
				}
				return err
			})
		case 2:
			u.LastValidCursor, err = f.Text()
		}
		return err
	})
}

func (r *Response) Marshal() ([]byte, error) {
	var enc wire.Encoder
	switch {
	case r.BlockScopedData != nil && r.BlockUndoSignal != nil:
		enc.Fail(errors.New("sink: response carries both data and undo signal"))
	case r.BlockScopedData != nil:
		enc.Message(1, r.BlockScopedData, true)
	case r.BlockUndoSignal != nil:
		enc.Message(2, r.BlockUndoSignal, true)
	default:
		enc.Fail(errEmptyResponse)
	}
	return enc.Result()
}

func (r *Response) Unmarshal(b []byte) error {
	*r = Response{}
	err := wire.Decode(b, func(f wire.Field) (err error) {
		var raw []byte
		switch f.Num {
		case 1:
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			r.BlockUndoSignal = nil
			r.BlockScopedData = &BlockScopedData{}
			err = r.BlockScopedData.Unmarshal(raw)
		case 2:
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			r.BlockScopedData = nil
			r.BlockUndoSignal = &BlockUndoSignal{}
			err = r.BlockUndoSignal.Unmarshal(raw)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("sink: response: %w", err)
	}
	if r.BlockScopedData == nil && r.BlockUndoSignal == nil {
		return errEmptyResponse
	}
	return nil
}
