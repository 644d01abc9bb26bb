package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	MetricOperationsPublished = "sink.operations.published"
	MetricPublishFailures     = "sink.publish.failures"
	MetricBlockDuration       = "sink.block.duration"
	MetricBlocksUndone        = "sink.blocks.undone"
	MetricHeadBlock           = "sink.head.block"

	AttributeTopic = "topic"
)

// SinkInstruments are created once per process and shared by the sink loop.
type SinkInstruments struct {
	published     metric.Int64Counter
	failures      metric.Int64Counter
	blockDuration metric.Float64Histogram
	undone        metric.Int64Counter
	head          atomic.Int64
}

func NewSinkInstruments(meter metric.Meter) (*SinkInstruments, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("sink")
	}
	s := &SinkInstruments{}
	var err error
	if s.published, err = meter.Int64Counter(MetricOperationsPublished,
		metric.WithDescription("Publish operations accepted by the transport"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if s.failures, err = meter.Int64Counter(MetricPublishFailures,
		metric.WithDescription("Blocks whose operations failed to publish"),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if s.blockDuration, err = meter.Float64Histogram(MetricBlockDuration,
		metric.WithDescription("Time from receiving a block to saving its cursor"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if s.undone, err = meter.Int64Counter(MetricBlocksUndone,
		metric.WithDescription("Undo signals received"),
		metric.WithUnit("{signal}"),
	); err != nil {
		return nil, err
	}
	head, err := meter.Int64ObservableGauge(MetricHeadBlock,
		metric.WithDescription("Last block whose cursor was saved"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, err
	}
	if _, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(head, s.head.Load())
		return nil
	}, head); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SinkInstruments) Published(ctx context.Context, topic string, n int) {
	s.published.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttributeTopic, topic)))
}

func (s *SinkInstruments) PublishFailed(ctx context.Context) {
	s.failures.Add(ctx, 1)
}

func (s *SinkInstruments) BlockProcessed(ctx context.Context, number uint64, took time.Duration) {
	s.blockDuration.Record(ctx, took.Seconds())
	s.head.Store(int64(number))
}

func (s *SinkInstruments) Undone(ctx context.Context, lastValid uint64) {
	s.undone.Add(ctx, 1)
	s.head.Store(int64(lastValid))
}
