package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrNotFound means nothing was saved yet and the sink starts fresh.
var ErrNotFound = errors.New("cursor: not found")

// Cursor marks the last block whose operations were all published.
type Cursor struct {
	Cursor      string `json:"cursor"`
	BlockNumber uint64 `json:"block_number"`
	BlockID     string `json:"block_id"`
}

func (c *Cursor) String() string {
	if c == nil {
		return "<none>"
	}
	return fmt.Sprintf("#%d (%s)", c.BlockNumber, c.BlockID)
}

type Store interface {
	Load(ctx context.Context) (*Cursor, error)
	Save(ctx context.Context, c *Cursor) error
}

func encode(c *Cursor) ([]byte, error) {
	if c == nil {
		return nil, errors.New("cursor: nil cursor")
	}
	data, err := sonic.ConfigStd.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cursor: marshal: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Cursor, error) {
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	var c Cursor
	if err := sonic.ConfigStd.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cursor: unmarshal: %w", err)
	}
	return &c, nil
}
