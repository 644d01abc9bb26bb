// Package sink drives the publish loop: each block's PublishOperations output
// is published in full before the block's cursor is saved.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/lock"
	"github.com/infigaming-com/substreams-sink-pubsub/logging"
	"github.com/infigaming-com/substreams-sink-pubsub/observability/metrics"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

// Publisher is satisfied by *pubsub.Client.
type Publisher interface {
	PublishOperations(ctx context.Context, ops *schema.PublishOperations, opts ...pubsub.PublishOption) ([]string, error)
}

type Sink struct {
	publisher   Publisher
	store       cursor.Store
	lg          *zap.Logger
	topics      map[string]struct{}
	legacyTopic string
	startBlock  uint64
	lock        lock.Lock
	leaseKey    string
	leaseTTL    time.Duration
	instruments *metrics.SinkInstruments

	last      atomic.Pointer[cursor.Cursor]
	processed atomic.Uint64
	streaming atomic.Bool
}

func New(publisher Publisher, store cursor.Store, opts ...Option) (*Sink, error) {
	if publisher == nil {
		return nil, errors.New("sink: publisher required")
	}
	if store == nil {
		return nil, errors.New("sink: cursor store required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.instruments == nil {
		inst, err := metrics.NewSinkInstruments(nil)
		if err != nil {
			return nil, err
		}
		o.instruments = inst
	}
	s := &Sink{
		publisher:   publisher,
		store:       store,
		lg:          o.lg,
		legacyTopic: o.legacyTopic,
		startBlock:  o.startBlock,
		lock:        o.lock,
		leaseKey:    o.leaseKey,
		leaseTTL:    o.leaseTTL,
		instruments: o.instruments,
	}
	if len(o.topics) > 0 {
		s.topics = lo.SliceToMap(o.topics, func(t string) (string, struct{}) { return t, struct{}{} })
	}
	return s, nil
}

// HandleBlockScopedData publishes every operation of the block and then saves
// its cursor. Nothing is published when the output is malformed or names an
// unregistered topic.
func (s *Sink) HandleBlockScopedData(ctx context.Context, data *BlockScopedData) error {
	start := time.Now()
	if data == nil || data.Clock == nil {
		return newError(ErrCodeInvalidOutput, nil, "block without clock")
	}
	clock := data.Clock
	ctx = logging.BlockToCtx(ctx, clock.Number)
	lg := logging.FromContext(ctx, s.lg)

	ops, err := s.operations(data)
	if err != nil {
		return err
	}
	applyBlockOrdering(ops, clock.Number)

	if ops.Len() > 0 {
		ids, err := s.publisher.PublishOperations(ctx, ops)
		if err != nil {
			s.instruments.PublishFailed(ctx)
			return newError(ErrCodePublish, err, "block %s", clock)
		}
		for topic, n := range lo.CountValues(lo.Map(ops.PublishOperations, func(op *schema.PublishOperation, _ int) string {
			return op.TopicID
		})) {
			s.instruments.Published(ctx, topic, n)
		}
		lg.Debug("published block", zap.Int("operations", len(ids)))
	}

	next := &cursor.Cursor{Cursor: data.Cursor, BlockNumber: clock.Number, BlockID: clock.ID}
	if err := s.store.Save(ctx, next); err != nil {
		return newError(ErrCodeCursor, err, "save cursor at %s", next)
	}
	s.last.Store(next)
	s.processed.Add(1)
	s.instruments.BlockProcessed(ctx, clock.Number, time.Since(start))
	return nil
}

func (s *Sink) operations(data *BlockScopedData) (*schema.PublishOperations, error) {
	ops := &schema.PublishOperations{}
	if data.Output == nil {
		return ops, nil
	}
	switch name := envelope.TypeName(data.Output.GetTypeUrl()); {
	case name == schema.PublishOperationsTypeName:
		if err := ops.Unmarshal(data.Output.GetValue()); err != nil {
			return nil, newError(ErrCodeInvalidOutput, err, "block %s: unmarshal output", data.Clock)
		}
	case name == schema.PublishTypeName && s.legacyTopic != "":
		var legacy schema.Publish
		if err := legacy.Unmarshal(data.Output.GetValue()); err != nil {
			return nil, newError(ErrCodeInvalidOutput, err, "block %s: unmarshal output", data.Clock)
		}
		ops.PublishOperations = lo.Map(legacy.Messages, func(m *schema.Message, _ int) *schema.PublishOperation {
			return &schema.PublishOperation{TopicID: s.legacyTopic, Message: m}
		})
	default:
		return nil, newError(ErrCodeInvalidOutput, nil, "block %s: output type %q, want %s", data.Clock, name, schema.PublishOperationsTypeName)
	}
	if err := ops.Validate(); err != nil {
		return nil, newError(ErrCodeInvalidOutput, err, "block %s", data.Clock)
	}
	if s.topics != nil {
		for i, op := range ops.PublishOperations {
			if _, ok := s.topics[op.TopicID]; !ok {
				return nil, newError(ErrCodeUnknownTopic, nil, "block %s: operation %d: topic %s not found", data.Clock, i, op.TopicID)
			}
		}
	}
	return ops, nil
}

// applyBlockOrdering keys operations that carry no ordering key by the block
// number, so a block's messages stay ordered per topic.
func applyBlockOrdering(ops *schema.PublishOperations, block uint64) {
	key := strconv.FormatUint(block, 10)
	for _, op := range ops.PublishOperations {
		if op.EffectiveOrderingKey() == "" {
			op.OrderingKey = key
		}
	}
}

// HandleBlockUndoSignal rewinds the cursor to the last valid block. Messages
// already published for the undone blocks stay published.
func (s *Sink) HandleBlockUndoSignal(ctx context.Context, undo *BlockUndoSignal) error {
	if undo == nil {
		return newError(ErrCodeInvalidOutput, nil, "nil undo signal")
	}
	prev := s.last.Load()
	fields := []zap.Field{
		zap.Uint64("last_valid_block", undo.LastValidBlockNumber),
		zap.String("last_valid_block_id", undo.LastValidBlockID),
	}
	if prev != nil {
		fields = append(fields, zap.Uint64("undone_from", undo.LastValidBlockNumber+1), zap.Uint64("undone_to", prev.BlockNumber))
	}
	s.lg.Warn("blocks undone, published messages cannot be retracted", fields...)

	next := &cursor.Cursor{Cursor: undo.LastValidCursor, BlockNumber: undo.LastValidBlockNumber, BlockID: undo.LastValidBlockID}
	if err := s.store.Save(ctx, next); err != nil {
		return newError(ErrCodeCursor, err, "rewind cursor to %s", next)
	}
	s.last.Store(next)
	s.instruments.Undone(ctx, undo.LastValidBlockNumber)
	return nil
}

// Run streams from source, resuming at the saved cursor, until the source
// ends or ctx is cancelled.
func (s *Sink) Run(ctx context.Context, source Source) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	lease, err := s.lock.TryLock(ctx, s.leaseKey, lock.WithExpiry(s.leaseTTL))
	if err != nil {
		return newError(ErrCodeLease, err, "acquire %s", s.leaseKey)
	}
	defer func() {
		cancel(nil)
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.lg.Warn("release writer lease", zap.String("key", s.leaseKey), zap.Error(err))
		}
	}()
	go func() {
		if err, ok := <-lock.KeepAlive(ctx, lease, s.leaseTTL/3); ok {
			cancel(newError(ErrCodeLease, err, "keep %s", s.leaseKey))
		}
	}()

	start, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, cursor.ErrNotFound):
		start = nil
	case err != nil:
		return newError(ErrCodeCursor, err, "load cursor")
	default:
		s.last.Store(start)
	}
	s.lg.Info("starting pubsub sink", zap.Stringer("restarting_at", start), zap.Uint64("start_block", s.startBlock))

	stream, err := source.Open(ctx, start, s.startBlock)
	if err != nil {
		return fmt.Errorf("sink: open source: %w", err)
	}
	defer func() { _ = stream.Close() }()
	s.streaming.Store(true)
	defer s.streaming.Store(false)

	for {
		resp, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.lg.Info("source exhausted", zap.Stringer("cursor", s.last.Load()))
				return nil
			}
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return fmt.Errorf("sink: receive: %w", err)
		}
		switch {
		case resp.BlockScopedData != nil:
			err = s.HandleBlockScopedData(ctx, resp.BlockScopedData)
		case resp.BlockUndoSignal != nil:
			err = s.HandleBlockUndoSignal(ctx, resp.BlockUndoSignal)
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			return err
		}
	}
}

// Cursor is the last saved cursor, nil before the first save or load.
func (s *Sink) Cursor() *cursor.Cursor {
	return s.last.Load()
}

// Ready reports whether the sink is attached to its source.
func (s *Sink) Ready() bool {
	return s.streaming.Load()
}

func (s *Sink) Processed() uint64 {
	return s.processed.Load()
}
