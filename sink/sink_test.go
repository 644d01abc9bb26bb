package sink_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/handler"
	"github.com/infigaming-com/substreams-sink-pubsub/lock"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/inmem"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
	"github.com/infigaming-com/substreams-sink-pubsub/sink"
)

type fixture struct {
	transport *inmem.Transport
	store     cursor.Store
	sink      *sink.Sink
}

func newFixture(t *testing.T, transport *inmem.Transport, opts ...sink.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.New(ctx, transport, pubsub.WithRetryPolicy(pubsub.RetryPolicy{MaxAttempts: 1}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Shutdown(ctx) })

	store := cursor.NewFileStore(filepath.Join(t.TempDir(), "cursor.json"))
	s, err := sink.New(client, store, opts...)
	require.NoError(t, err)
	return &fixture{transport: transport, store: store, sink: s}
}

func output(t *testing.T, ops *schema.PublishOperations) *anypb.Any {
	t.Helper()
	out, err := envelope.EncodeValue(ops)
	require.NoError(t, err)
	return out
}

func clockBlock(t *testing.T, number uint64, opts ...handler.Option) *sink.BlockScopedData {
	t.Helper()
	clock := &domain.Clock{ID: blockID(number), Number: number}
	ops, err := handler.NewClockHandler(opts...).Handle(clock)
	require.NoError(t, err)
	return &sink.BlockScopedData{Output: output(t, ops), Clock: clock, Cursor: "c" + blockID(number)}
}

func blockID(number uint64) string {
	return "0x" + string(rune('a'+number%26))
}

func TestHandleBlockPublishesThenSavesCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmem.New())

	clock := &domain.Clock{ID: "0x64", Number: 100}
	ops, err := handler.NewTransfersHandler().Handle(&domain.Transfers{Transfers: []*domain.Transfer{
		{TrxHash: "t1", From: "aa", To: "bb", BlockNumber: 100},
		{TrxHash: "t2", From: "cc", To: "dd", BlockNumber: 100},
	}})
	require.NoError(t, err)

	require.NoError(t, f.sink.HandleBlockScopedData(ctx, &sink.BlockScopedData{
		Output: output(t, ops),
		Clock:  clock,
		Cursor: "c100",
	}))

	published := f.transport.Published()
	require.Len(t, published, 2)
	for _, p := range published {
		assert.Equal(t, "transfers", p.Topic)
		assert.Equal(t, "100", p.Envelope.OrderingKey)
	}
	assert.Equal(t, "0xaa", published[0].Envelope.Attributes["from"])
	assert.Equal(t, "0xdd", published[1].Envelope.Attributes["to"])

	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &cursor.Cursor{Cursor: "c100", BlockNumber: 100, BlockID: "0x64"}, saved)
	assert.Equal(t, saved, f.sink.Cursor())
	assert.Equal(t, uint64(1), f.sink.Processed())
}

func TestHandleBlockKeepsExplicitOrderingKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmem.New())

	require.NoError(t, f.sink.HandleBlockScopedData(ctx, clockBlock(t, 3, handler.WithFixedWidthBlockOrdering())))
	published := f.transport.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "0000000000000003", published[0].Envelope.OrderingKey)
	assert.Equal(t, envelope.TypeURL(domain.ClockTypeName), published[0].Envelope.Attributes[pubsub.AttributeTypeURL])
}

func TestHandleBlockWithoutOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmem.New())

	require.NoError(t, f.sink.HandleBlockScopedData(ctx, &sink.BlockScopedData{
		Output: output(t, &schema.PublishOperations{}),
		Clock:  &domain.Clock{ID: "0x1", Number: 1},
		Cursor: "c1",
	}))
	require.NoError(t, f.sink.HandleBlockScopedData(ctx, &sink.BlockScopedData{
		Clock:  &domain.Clock{ID: "0x2", Number: 2},
		Cursor: "c2",
	}))
	assert.Empty(t, f.transport.Published())
	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.BlockNumber)
}

func TestHandleBlockFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		transport *inmem.Transport
		opts      []sink.Option
		block     func(t *testing.T) *sink.BlockScopedData
		check     func(t *testing.T, err error)
	}{
		{
			name:      "unregistered topic",
			transport: inmem.New(),
			opts:      []sink.Option{sink.WithTopics("transfers")},
			block:     func(t *testing.T) *sink.BlockScopedData { return clockBlock(t, 1) },
			check: func(t *testing.T, err error) {
				assert.True(t, sink.IsUnknownTopic(err))
			},
		},
		{
			name:      "wrong output type",
			transport: inmem.New(),
			block: func(t *testing.T) *sink.BlockScopedData {
				b := clockBlock(t, 1)
				b.Output.TypeUrl = envelope.TypeURL(domain.ClockTypeName)
				return b
			},
			check: func(t *testing.T, err error) {
				assert.True(t, sink.IsInvalidOutput(err))
			},
		},
		{
			name:      "malformed output",
			transport: inmem.New(),
			block: func(t *testing.T) *sink.BlockScopedData {
				b := clockBlock(t, 1)
				b.Output.Value = []byte{0x0a, 0xff}
				return b
			},
			check: func(t *testing.T, err error) {
				assert.True(t, sink.IsInvalidOutput(err))
			},
		},
		{
			name:      "operation without topic",
			transport: inmem.New(),
			block: func(t *testing.T) *sink.BlockScopedData {
				b := clockBlock(t, 1)
				b.Output = output(t, &schema.PublishOperations{PublishOperations: []*schema.PublishOperation{
					{Message: &schema.Message{Data: []byte{1}}},
				}})
				return b
			},
			check: func(t *testing.T, err error) {
				assert.True(t, sink.IsInvalidOutput(err))
				assert.ErrorIs(t, err, schema.ErrEmptyTopic)
			},
		},
		{
			name:      "missing clock",
			transport: inmem.New(),
			block:     func(t *testing.T) *sink.BlockScopedData { return &sink.BlockScopedData{} },
			check: func(t *testing.T, err error) {
				assert.True(t, sink.IsInvalidOutput(err))
			},
		},
		{
			name:      "transport rejects topic",
			transport: inmem.New(inmem.WithTopics("transfers")),
			block:     func(t *testing.T) *sink.BlockScopedData { return clockBlock(t, 1) },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, sink.ErrPublish)
				assert.ErrorIs(t, err, inmem.ErrTopicNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.transport, tt.opts...)
			err := f.sink.HandleBlockScopedData(ctx, tt.block(t))
			require.Error(t, err)
			tt.check(t, err)

			assert.Empty(t, f.transport.Published())
			_, err = f.store.Load(ctx)
			assert.ErrorIs(t, err, cursor.ErrNotFound)
			assert.Nil(t, f.sink.Cursor())
		})
	}
}

func TestHandleBlockLegacyOutput(t *testing.T) {
	ctx := context.Background()

	clock := &domain.Clock{ID: "0x64", Number: 100}
	legacy, err := handler.Legacy[*domain.Transfers](handler.NewTransfersHandler())(&domain.Transfers{Transfers: []*domain.Transfer{
		{TrxHash: "t1", From: "aa", To: "bb", Quantity: "1", BlockNumber: 100},
		{TrxHash: "t2", From: "cc", To: "dd", Quantity: "2", BlockNumber: 100},
	}})
	require.NoError(t, err)
	out, err := envelope.EncodeValue(legacy)
	require.NoError(t, err)
	block := func() *sink.BlockScopedData {
		return &sink.BlockScopedData{Output: out, Clock: clock, Cursor: "c100"}
	}

	t.Run("without legacy topic", func(t *testing.T) {
		f := newFixture(t, inmem.New())
		err := f.sink.HandleBlockScopedData(ctx, block())
		assert.True(t, sink.IsInvalidOutput(err))
		assert.Empty(t, f.transport.Published())
	})

	t.Run("with legacy topic", func(t *testing.T) {
		f := newFixture(t, inmem.New(), sink.WithLegacyTopic("transfers"))
		require.NoError(t, f.sink.HandleBlockScopedData(ctx, block()))

		published := f.transport.Published()
		require.Len(t, published, 2)
		for i, p := range published {
			assert.Equal(t, "transfers", p.Topic)
			assert.Equal(t, "100", p.Envelope.OrderingKey)
			assert.Equal(t, legacy.Messages[i].Data, p.Envelope.Data)
		}
		assert.Equal(t, "0xcc", published[1].Envelope.Attributes["from"])
	})

	t.Run("legacy topic not registered", func(t *testing.T) {
		f := newFixture(t, inmem.New(), sink.WithLegacyTopic("transfers"), sink.WithTopics("clocks"))
		err := f.sink.HandleBlockScopedData(ctx, block())
		assert.True(t, sink.IsUnknownTopic(err))
	})
}

func TestHandleUndoRewindsCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmem.New())

	for n := uint64(10); n <= 12; n++ {
		require.NoError(t, f.sink.HandleBlockScopedData(ctx, clockBlock(t, n)))
	}
	require.NoError(t, f.sink.HandleBlockUndoSignal(ctx, &sink.BlockUndoSignal{
		LastValidBlockID:     blockID(10),
		LastValidBlockNumber: 10,
		LastValidCursor:      "c" + blockID(10),
	}))

	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), saved.BlockNumber)
	assert.Equal(t, "c"+blockID(10), saved.Cursor)
	assert.Len(t, f.transport.Published(), 3, "undone messages stay published")

	assert.Error(t, f.sink.HandleBlockUndoSignal(ctx, nil))
}

func replay(t *testing.T, responses ...*sink.Response) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, sink.WriteReplay(&buf, responses...))
	return bytes.NewReader(buf.Bytes())
}

func TestRunReplaysAndResumes(t *testing.T) {
	ctx := context.Background()
	transport := inmem.New()
	f := newFixture(t, transport, sink.WithStartBlock(2))

	responses := []*sink.Response{
		{BlockScopedData: clockBlock(t, 1)},
		{BlockScopedData: clockBlock(t, 2)},
		{BlockScopedData: clockBlock(t, 3)},
		{BlockUndoSignal: &sink.BlockUndoSignal{LastValidBlockID: blockID(2), LastValidBlockNumber: 2, LastValidCursor: "c" + blockID(2)}},
		{BlockScopedData: clockBlock(t, 3)},
		{BlockScopedData: clockBlock(t, 4)},
	}
	require.NoError(t, f.sink.Run(ctx, sink.NewReplaySource(replay(t, responses...))))
	assert.False(t, f.sink.Ready())

	// Block 1 is before the start block.
	assert.Len(t, transport.Published(), 4)
	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), saved.BlockNumber)

	resumed, err := sink.New(mustClient(t, transport), f.store)
	require.NoError(t, err)
	responses = append(responses, &sink.Response{BlockScopedData: clockBlock(t, 5)})
	require.NoError(t, resumed.Run(ctx, sink.NewReplaySource(replay(t, responses...))))

	published := transport.Published()
	require.Len(t, published, 5)
	assert.Equal(t, "5", published[4].Envelope.OrderingKey)
}

func mustClient(t *testing.T, transport pubsub.Transport) *pubsub.Client {
	t.Helper()
	client, err := pubsub.New(context.Background(), transport)
	require.NoError(t, err)
	return client
}

func TestRunStopsOnBlockError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmem.New(), sink.WithTopics("clocks"))

	err := f.sink.Run(ctx, sink.NewReplaySource(replay(t,
		&sink.Response{BlockScopedData: clockBlock(t, 1)},
		&sink.Response{BlockScopedData: clockBlock(t, 2, handler.WithTopic("elsewhere"))},
		&sink.Response{BlockScopedData: clockBlock(t, 3)},
	)))
	require.Error(t, err)
	assert.True(t, sink.IsUnknownTopic(err))
	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saved.BlockNumber)
}

func TestRunRequiresLease(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewRedisLock(client)

	held, err := locker.TryLock(ctx, "sink:clocks")
	require.NoError(t, err)

	f := newFixture(t, inmem.New(), sink.WithLease(locker, "sink:clocks", 0))
	err = f.sink.Run(ctx, sink.NewReplaySource(replay(t, &sink.Response{BlockScopedData: clockBlock(t, 1)})))
	assert.ErrorIs(t, err, sink.ErrLease)
	assert.ErrorIs(t, err, lock.ErrLockNotAcquired)
	assert.Empty(t, f.transport.Published())

	require.NoError(t, held.Release(ctx))
	require.NoError(t, f.sink.Run(ctx, sink.NewReplaySource(replay(t, &sink.Response{BlockScopedData: clockBlock(t, 1)}))))
	assert.Len(t, f.transport.Published(), 1)

	_, err = locker.TryLock(ctx, "sink:clocks")
	assert.NoError(t, err, "lease released after run")
}

func TestNewValidates(t *testing.T) {
	_, err := sink.New(nil, cursor.NewFileStore("x"))
	assert.Error(t, err)
	_, err = sink.New(mustClient(t, inmem.New()), nil)
	assert.Error(t, err)
}
