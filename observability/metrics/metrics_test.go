package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name: "valid config with HTTP",
			opts: []Option{
				WithServiceName("test-service"),
				WithServiceNamespace("test"),
				WithOTLPEndpoint("localhost:4318"),
				WithEnvironment("test"),
			},
		},
		{
			name: "valid config with gRPC",
			opts: []Option{
				WithServiceName("test-service"),
				WithOTLPEndpoint(""),
				WithOTLPGRPCEndpoint("localhost:4317"),
			},
		},
		{
			name: "empty OTLP endpoint",
			opts: []Option{
				WithServiceName("test-service"),
				WithOTLPEndpoint(""),
			},
			wantErr: true,
		},
		{
			name: "manual reader needs no endpoint",
			opts: []Option{
				WithOTLPEndpoint(""),
				WithReader(sdkmetric.NewManualReader()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, err := NewExporter(context.Background(), tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, exporter.Meter())
			assert.NotNil(t, exporter.resource)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// Export to an absent collector may fail on shutdown.
			_ = exporter.Close(ctx)
		})
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestSinkInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	exporter, err := NewExporter(context.Background(), WithReader(reader))
	require.NoError(t, err)
	defer func() { _ = exporter.Close(context.Background()) }()

	inst, err := NewSinkInstruments(exporter.Meter())
	require.NoError(t, err)

	ctx := context.Background()
	inst.Published(ctx, "clocks", 2)
	inst.Published(ctx, "clocks", 1)
	inst.Published(ctx, "transfers", 4)
	inst.PublishFailed(ctx)
	inst.BlockProcessed(ctx, 120, 250*time.Millisecond)

	data := collect(t, reader)

	published, ok := data[MetricOperationsPublished].(metricdata.Sum[int64])
	require.True(t, ok)
	byTopic := map[string]int64{}
	for _, dp := range published.DataPoints {
		topic, _ := dp.Attributes.Value(attribute.Key(AttributeTopic))
		byTopic[topic.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"clocks": 3, "transfers": 4}, byTopic)

	failures, ok := data[MetricPublishFailures].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)

	duration, ok := data[MetricBlockDuration].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
	assert.InDelta(t, 0.25, duration.DataPoints[0].Sum, 1e-9)

	head, ok := data[MetricHeadBlock].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, head.DataPoints, 1)
	assert.Equal(t, int64(120), head.DataPoints[0].Value)

	inst.Undone(ctx, 118)
	data = collect(t, reader)
	head = data[MetricHeadBlock].(metricdata.Gauge[int64])
	assert.Equal(t, int64(118), head.DataPoints[0].Value)
}

func TestSinkInstrumentsWithoutMeter(t *testing.T) {
	inst, err := NewSinkInstruments(nil)
	require.NoError(t, err)
	inst.Published(context.Background(), "t", 1)
	inst.BlockProcessed(context.Background(), 1, time.Millisecond)
}
