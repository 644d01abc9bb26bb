// Package config loads the sink configuration from flags, PUBSUB_SINK_*
// environment variables and an optional config file, in that precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/infigaming-com/substreams-sink-pubsub/cache"
	"github.com/infigaming-com/substreams-sink-pubsub/cursor"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/kafka"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

const EnvPrefix = "PUBSUB_SINK"

const (
	TransportGoogle = "google"
	TransportKafka  = "kafka"
	TransportInmem  = "inmem"

	CursorFile  = "file"
	CursorRedis = "redis"
	CursorS3    = "s3"
)

type GoogleConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type CursorConfig struct {
	Backend string          `mapstructure:"backend"`
	Path    string          `mapstructure:"path"`
	Key     string          `mapstructure:"key"`
	S3      cursor.S3Config `mapstructure:"s3"`
}

type LeaseConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	OTLPEndpoint     string `mapstructure:"otlp_endpoint"`
	OTLPGRPCEndpoint string `mapstructure:"otlp_grpc_endpoint"`
	Environment      string `mapstructure:"environment"`
}

// Enabled reports whether an exporter endpoint is configured.
func (m MetricsConfig) Enabled() bool {
	return m.OTLPEndpoint != "" || m.OTLPGRPCEndpoint != ""
}

type HTTPConfig struct {
	Port int64 `mapstructure:"port"`
}

type Config struct {
	Transport   string            `mapstructure:"transport"`
	Google      GoogleConfig      `mapstructure:"google"`
	Kafka       kafka.Config      `mapstructure:"kafka"`
	Topics      []string          `mapstructure:"topics"`
	LegacyTopic string            `mapstructure:"legacy_topic"`
	Redis       cache.RedisConfig `mapstructure:"redis"`
	Cursor      CursorConfig      `mapstructure:"cursor"`
	Lease       LeaseConfig       `mapstructure:"lease"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	LogLevel    int               `mapstructure:"log_level"`
	StartBlock  int64             `mapstructure:"start_block"`
	InputModule string            `mapstructure:"input_module"`
	// ServiceFile is an encoded Service whose sink_config, when present,
	// overrides StartBlock and InputModule.
	ServiceFile string `mapstructure:"service_file"`
}

// RegisterFlags declares every setting with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("transport", TransportGoogle, "Transport: google, kafka or inmem")
	flags.String("google.project-id", "", "GCP project of the topics")
	flags.String("google.endpoint", "", "Pub/Sub endpoint override, e.g. an emulator")
	flags.String("google.credentials-file", "", "Service account JSON file")
	flags.StringSlice("kafka.brokers", []string{"localhost:9092"}, "Kafka bootstrap brokers")
	flags.String("kafka.client-id", "substreams-sink-pubsub", "Kafka client id")
	flags.String("kafka.auth", kafka.AuthNone, "Kafka auth: '', plain or gmk")
	flags.StringSlice("topics", nil, "Topics operations may publish to; empty accepts any")
	flags.String("legacy-topic", "", "Topic for module output in the legacy Publish form")
	flags.String("redis.addr", "localhost:6379", "Redis address for the cursor store and lease")
	flags.Int("redis.db", 0, "Redis database")
	flags.Duration("redis.connect-timeout", 5*time.Second, "Redis connect timeout")
	flags.String("cursor.backend", CursorFile, "Cursor store: file, redis or s3")
	flags.String("cursor.path", "cursor.json", "Cursor file path")
	flags.String("cursor.key", "substreams-sink-pubsub:cursor", "Cursor key in redis")
	flags.String("cursor.s3.bucket", "", "Cursor bucket")
	flags.String("cursor.s3.key", "substreams-sink-pubsub/cursor.json", "Cursor object key")
	flags.String("cursor.s3.region", "", "Cursor bucket region")
	flags.String("cursor.s3.endpoint", "", "S3 compatible endpoint")
	flags.Bool("lease.enabled", false, "Hold a redis lease while running")
	flags.String("lease.key", "substreams-sink-pubsub", "Lease key")
	flags.Duration("lease.ttl", 10*time.Second, "Lease expiry")
	flags.String("metrics.otlp-endpoint", "", "OTLP HTTP endpoint; metrics are off without an endpoint")
	flags.String("metrics.otlp-grpc-endpoint", "", "OTLP gRPC endpoint")
	flags.String("metrics.environment", "development", "Deployment environment attribute")
	flags.Int64("http.port", 8080, "Ops HTTP port")
	flags.Int("log-level", 0, "zap level: -1 debug, 0 info, 1 warn")
	flags.Int64("start-block", 0, "First block when no cursor is saved")
	flags.String("input-module", "", "Module whose output is published")
	flags.String("service-file", "", "Encoded Service overriding start block and input module")
	flags.String("config", "", "Config file (yaml, json or toml)")
}

// NewViper binds flags and the PUBSUB_SINK_ environment. A flag named
// cursor.s3.bucket is read from PUBSUB_SINK_CURSOR_S3_BUCKET.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(mapKey(f.Name), f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return v, nil
}

// mapKey turns a flag name into its mapstructure key.
func mapKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Topics = lo.Uniq(lo.Compact(cfg.Topics))
	if cfg.ServiceFile != "" {
		if err := cfg.applyService(cfg.ServiceFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyService(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: service_file: %w", err)
	}
	var svc schema.Service
	if err := svc.Unmarshal(raw); err != nil {
		return fmt.Errorf("config: service_file: %w", err)
	}
	if svc.HasSinkConfig() {
		c.StartBlock = svc.SinkConfig.StartBlock
		if svc.SinkConfig.InputModule != "" {
			c.InputModule = svc.SinkConfig.InputModule
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if !lo.Contains([]string{TransportGoogle, TransportKafka, TransportInmem}, c.Transport) {
		errs = append(errs, fmt.Errorf("transport: unknown %q", c.Transport))
	}
	if c.Transport == TransportGoogle && c.Google.ProjectID == "" {
		errs = append(errs, errors.New("google.project_id: required for the google transport"))
	}
	if c.Transport == TransportKafka && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: required for the kafka transport"))
	}
	switch c.Cursor.Backend {
	case CursorFile:
		if c.Cursor.Path == "" {
			errs = append(errs, errors.New("cursor.path: required for the file backend"))
		}
	case CursorRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required for the redis backend"))
		}
	case CursorS3:
		if c.Cursor.S3.Bucket == "" || c.Cursor.S3.Key == "" {
			errs = append(errs, errors.New("cursor.s3.bucket: bucket and key required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cursor.backend: unknown %q", c.Cursor.Backend))
	}
	if c.Lease.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr: required when lease.enabled"))
	}
	if c.StartBlock < 0 {
		errs = append(errs, fmt.Errorf("start_block: %d is negative", c.StartBlock))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: %d out of range", c.HTTP.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
