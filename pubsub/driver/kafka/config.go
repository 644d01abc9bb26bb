package kafka

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Partitioner strategy constants
const (
	PartitionerHash       = "hash"
	PartitionerRandom     = "random"
	PartitionerRoundRobin = "roundrobin"
)

// Offset reset strategy constants
const (
	OffsetResetNewest = "newest"
	OffsetResetOldest = "oldest"
)

// Auth mechanisms
const (
	AuthNone  = ""
	AuthPlain = "plain"
	AuthGMK   = "gmk"
)

// Config holds the broker settings shared by producer and consumer groups.
type Config struct {
	Brokers        []string      `mapstructure:"brokers"`
	ClientID       string        `mapstructure:"client_id"`
	Auth           string        `mapstructure:"auth"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Partitioner    string        `mapstructure:"partitioner"`
	OffsetReset    string        `mapstructure:"offset_reset"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// Subscriptions maps a subscription (consumer group) name to its topic.
	// Unmapped names consume the topic of the same name.
	Subscriptions map[string]string `mapstructure:"subscriptions"`
}

func (c Config) withDefaults() Config {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.ClientID == "" {
		c.ClientID = "substreams-sink-pubsub"
	}
	if c.Partitioner == "" {
		c.Partitioner = PartitionerHash
	}
	if c.OffsetReset == "" {
		c.OffsetReset = OffsetResetNewest
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	return c
}

func (c Config) topicFor(subscription string) string {
	if topic, ok := c.Subscriptions[subscription]; ok && topic != "" {
		return topic
	}
	return subscription
}

// saramaConfig builds the client config. The hash partitioner keeps all
// records sharing an ordering key on one partition, which is what preserves
// their order.
func (c Config) saramaConfig(lg *zap.Logger) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = c.ClientID
	cfg.Version = sarama.V2_3_0_0

	cfg.Producer.Return.Successes = true // sync producer
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	switch c.Partitioner {
	case PartitionerRandom:
		cfg.Producer.Partitioner = sarama.NewRandomPartitioner
	case PartitionerRoundRobin:
		cfg.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	default:
		cfg.Producer.Partitioner = sarama.NewHashPartitioner
	}

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Session.Timeout = c.SessionTimeout
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	if c.OffsetReset == OffsetResetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	switch c.Auth {
	case AuthNone:
	case AuthPlain:
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = c.Username
		cfg.Net.SASL.Password = c.Password
		cfg.Net.SASL.Handshake = true
	case AuthGMK:
		// GCP Managed Kafka
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		cfg.Net.SASL.TokenProvider = newGMKTokenProvider(lg)
		cfg.Net.SASL.Handshake = true
	default:
		return nil, fmt.Errorf("kafka: unknown auth %q", c.Auth)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: config: %w", err)
	}
	return cfg, nil
}
