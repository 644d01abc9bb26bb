package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	v, err := NewViper(flags)
	require.NoError(t, err)
	return Load(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, "--google.project-id=proj")
	require.NoError(t, err)
	assert.Equal(t, TransportGoogle, cfg.Transport)
	assert.Equal(t, "proj", cfg.Google.ProjectID)
	assert.Equal(t, CursorFile, cfg.Cursor.Backend)
	assert.Equal(t, "cursor.json", cfg.Cursor.Path)
	assert.Equal(t, 10*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 5*time.Second, cfg.Redis.ConnectTimeout)
	assert.Equal(t, int64(8080), cfg.HTTP.Port)
	assert.False(t, cfg.Metrics.Enabled())
}

func TestEnvAndFlags(t *testing.T) {
	t.Setenv("PUBSUB_SINK_TRANSPORT", "kafka")
	t.Setenv("PUBSUB_SINK_KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("PUBSUB_SINK_CURSOR_BACKEND", "redis")
	t.Setenv("PUBSUB_SINK_START_BLOCK", "100")
	t.Setenv("PUBSUB_SINK_METRICS_OTLP_ENDPOINT", "collector:4318")

	cfg, err := load(t, "--start-block=200", "--topics=clocks,transfers,clocks")
	require.NoError(t, err)
	assert.Equal(t, TransportKafka, cfg.Transport)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, CursorRedis, cfg.Cursor.Backend)
	assert.Equal(t, int64(200), cfg.StartBlock, "flag wins over env")
	assert.Equal(t, []string{"clocks", "transfers"}, cfg.Topics)
	assert.True(t, cfg.Metrics.Enabled())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: inmem
cursor:
  backend: s3
  s3:
    bucket: sinks
kafka:
  subscriptions:
    audit: transfers
`), 0o644))

	cfg, err := load(t, "--config="+path)
	require.NoError(t, err)
	assert.Equal(t, TransportInmem, cfg.Transport)
	assert.Equal(t, CursorS3, cfg.Cursor.Backend)
	assert.Equal(t, "sinks", cfg.Cursor.S3.Bucket)
	assert.Equal(t, "substreams-sink-pubsub/cursor.json", cfg.Cursor.S3.Key)
	assert.Equal(t, map[string]string{"audit": "transfers"}, cfg.Kafka.Subscriptions)
}

func TestServiceFileOverrides(t *testing.T) {
	svc := &schema.Service{SinkConfig: &schema.Config{StartBlock: 12345, InputModule: "map_clocks"}}
	raw, err := svc.Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "service.bin")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	cfg, err := load(t, "--transport=inmem", "--start-block=1", "--input-module=other", "--service-file="+path)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cfg.StartBlock)
	assert.Equal(t, "map_clocks", cfg.InputModule)

	_, err = load(t, "--transport=inmem", "--service-file="+filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "service_file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown transport", args: []string{"--transport=sqs"}, wantErr: "transport"},
		{name: "google needs project", args: nil, wantErr: "google.project_id"},
		{name: "unknown cursor backend", args: []string{"--transport=inmem", "--cursor.backend=disk"}, wantErr: "cursor.backend"},
		{name: "s3 needs bucket", args: []string{"--transport=inmem", "--cursor.backend=s3"}, wantErr: "cursor.s3.bucket"},
		{name: "lease needs redis", args: []string{"--transport=inmem", "--lease.enabled", "--redis.addr="}, wantErr: "redis.addr"},
		{name: "negative start block", args: []string{"--transport=inmem", "--start-block=-5"}, wantErr: "start_block"},
		{name: "port out of range", args: []string{"--transport=inmem", "--http.port=70000"}, wantErr: "http.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
