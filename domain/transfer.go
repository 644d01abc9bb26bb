package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/infigaming-com/substreams-sink-pubsub/internal/wire"
)

const (
	TransferTypeName  = "eth.token.transfers.v1.Transfer"
	TransfersTypeName = "eth.token.transfers.v1.Transfers"
)

var ErrInvalidQuantity = errors.New("domain: transfer quantity is not a decimal integer")

// Transfer is one ERC20 transfer log. Addresses are hex strings as emitted by
// the upstream decoder, usually without a 0x prefix.
type Transfer struct {
	TrxHash      string `json:"trx_hash"`
	LogIndex     uint32 `json:"log_index"`
	From         string `json:"from"`
	To           string `json:"to"`
	Quantity     string `json:"quantity"`
	TokenAddress string `json:"token_address"`
	BlockNumber  uint64 `json:"block_number"`
}

func (t *Transfer) TypeName() string { return TransferTypeName }

// Validate checks the fields that are serialised verbatim into payloads.
// Address checks belong to attribute building.
func (t *Transfer) Validate() error {
	if t.Quantity == "" {
		return nil
	}
	q, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidQuantity, t.Quantity)
	}
	if !q.IsInteger() || q.IsNegative() {
		return fmt.Errorf("%w: %q", ErrInvalidQuantity, t.Quantity)
	}
	return nil
}

func (t *Transfer) Marshal() ([]byte, error) {
	var enc wire.Encoder
	enc.String(1, t.TrxHash)
	enc.Uint32(2, t.LogIndex)
	enc.String(3, t.From)
	enc.String(4, t.To)
	enc.String(5, t.Quantity)
	enc.String(6, t.TokenAddress)
	enc.Uint64(7, t.BlockNumber)
	return enc.Result()
}

func (t *Transfer) Unmarshal(b []byte) error {
	*t = Transfer{}
	return wire.Decode(b, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			t.TrxHash, err = f.Text()
		case 2:
			t.LogIndex, err = f.Uint32()
		case 3:
			t.From, err = f.Text()
		case 4:
			t.To, err = f.Text()
		case 5:
			t.Quantity, err = f.Text()
		case 6:
			t.TokenAddress, err = f.Text()
		case 7:
			t.BlockNumber, err = f.Uint64()
		}
		return err
	})
}

// Transfers is the per-block batch, in log order.
type Transfers struct {
	Transfers []*Transfer `json:"transfers"`
}

func (t *Transfers) TypeName() string { return TransfersTypeName }

func (t *Transfers) Marshal() ([]byte, error) {
	var enc wire.Encoder
	for i, tr := range t.Transfers {
		if tr == nil {
			enc.Fail(fmt.Errorf("domain: transfer %d is nil", i))
			break
		}
		enc.Message(1, tr, true)
	}
	return enc.Result()
}

func (t *Transfers) Unmarshal(b []byte) error {
	*t = Transfers{}
	return wire.Decode(b, func(f wire.Field) error {
		if f.Num != 1 {
			return nil
		}
		raw, err := f.Bytes()
		if err != nil {
			return err
		}
		tr := &Transfer{}
		if err := tr.Unmarshal(raw); err != nil {
			return fmt.Errorf("transfer %d: %w", len(t.Transfers), err)
		}
		t.Transfers = append(t.Transfers, tr)
		return nil
	})
}
