package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/internal/wire"
)

// Source is the upstream block stream.
type Source interface {
	// Open positions the stream right after c, or at startBlock when c is nil.
	Open(ctx context.Context, c *cursor.Cursor, startBlock uint64) (Stream, error)
}

// Stream yields responses until it returns io.EOF.
type Stream interface {
	Recv(ctx context.Context) (*Response, error)
	Close() error
}

// ReplaySource replays varint length-delimited Response records.
type ReplaySource struct {
	open func() (io.ReadCloser, error)
}

func NewReplaySource(r io.Reader) *ReplaySource {
	return &ReplaySource{open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil }}
}

func NewReplayFile(path string) *ReplaySource {
	return &ReplaySource{open: func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sink: open replay %s: %w", path, err)
		}
		return f, nil
	}}
}

func (s *ReplaySource) Open(_ context.Context, c *cursor.Cursor, startBlock uint64) (Stream, error) {
	rc, err := s.open()
	if err != nil {
		return nil, err
	}
	stream := &replayStream{r: bufio.NewReader(rc), closer: rc, from: startBlock}
	if c != nil {
		stream.from = c.BlockNumber + 1
		stream.resumeID = c.BlockID
	}
	return stream, nil
}

type replayStream struct {
	r        *bufio.Reader
	closer   io.Closer
	from     uint64
	resumeID string
}

func (s *replayStream) Recv(ctx context.Context) (*Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := readResponse(s.r)
		if err != nil {
			return nil, err
		}
		// Undo signals only matter once the stream has reached the resume point.
		if data := resp.BlockScopedData; data != nil && data.Clock != nil && data.Clock.Number < s.from {
			continue
		}
		if undo := resp.BlockUndoSignal; undo != nil && undo.LastValidBlockNumber+1 < s.from {
			continue
		}
		return resp, nil
	}
}

func (s *replayStream) Close() error {
	return s.closer.Close()
}

func readResponse(r *bufio.Reader) (*Response, error) {
	size, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("sink: replay record: %w", io.ErrUnexpectedEOF)
	}
	resp := &Response{}
	if err := resp.Unmarshal(buf); err != nil {
		return nil, err
	}
	return resp, nil
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	var prefix []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(prefix) > 0 {
				return 0, fmt.Errorf("sink: replay length: %w", io.ErrUnexpectedEOF)
			}
			return 0, err
		}
		prefix = append(prefix, b)
		if b < 0x80 {
			break
		}
		if len(prefix) >= protowire.SizeVarint(1<<63) {
			return 0, errors.New("sink: replay length overflows")
		}
	}
	v, n := protowire.ConsumeVarint(prefix)
	if n < 0 {
		return 0, fmt.Errorf("sink: replay length: %w", protowire.ParseError(n))
	}
	return v, nil
}

// WriteReplay appends responses to w in the format ReplaySource reads.
func WriteReplay(w io.Writer, responses ...*Response) error {
	for i, resp := range responses {
		b, err := resp.Marshal()
		if err != nil {
			return fmt.Errorf("sink: response %d: %w", i, err)
		}
		if _, err := w.Write(wire.AppendDelimited(nil, b)); err != nil {
			return err
		}
	}
	return nil
}
