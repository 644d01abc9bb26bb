package pubsub

import (
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"

	"github.com/infigaming-com/substreams-sink-pubsub/cache"
)

type Option func(*options)

// SubscriptionOption overrides the client's ReceiveSettings for one subscription.
type SubscriptionOption func(*ReceiveSettings)

type PublishOption func(*publishOptions)

type options struct {
	logger           Logger
	hooks            Hooks
	retry            RetryPolicy
	batchConcurrency int
	receive          ReceiveSettings
}

// RetryPolicy bounds publish retries and subscription reconnects. Zero fields
// take defaults.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// ReceiveSettings tune how a subscription hands messages to its handler.
// Zero fields fall back to the client defaults.
type ReceiveSettings struct {
	// Workers is the number of ordering-key lanes.
	Workers int
	// Buffer is the number of messages queued across all lanes.
	Buffer         int
	ProcessTimeout time.Duration
	// MaxExtension caps how long the transport keeps extending a lease.
	MaxExtension time.Duration
	// MaxAttempts is the number of deliveries after which a failing message
	// is dead-lettered instead of nacked.
	MaxAttempts     int
	DeadLetterTopic string
	Dedupe          Dedupe
}

// Dedupe drops redeliveries of a message id seen within TTL. Store defaults
// to an in-process freecache arena of Size bytes; a redis backed cache shares
// the window between replicas.
type Dedupe struct {
	Disabled bool
	TTL      time.Duration
	Size     int
	Store    cache.Cache
	Prefix   string
}

type publishOptions struct {
	orderingKey string
	attributes  map[string]string
	retry       RetryPolicy
}

func defaultOptions() options {
	return options{
		logger: NopLogger{},
		retry: RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
		},
		batchConcurrency: 16,
		receive: ReceiveSettings{
			Workers:        8,
			Buffer:         512,
			ProcessTimeout: 30 * time.Second,
			MaxExtension:   time.Minute,
			MaxAttempts:    5,
			Dedupe:         Dedupe{TTL: 5 * time.Minute, Size: 4 << 20, Prefix: "pubsub:dedupe:"},
		},
	}
}

func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy.withDefaults()
	}
}

// WithBatchConcurrency bounds how many ordering keys PublishBatch publishes
// in parallel.
func WithBatchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// WithReceiveSettings sets the defaults every subscription starts from.
func WithReceiveSettings(rs ReceiveSettings) Option {
	return func(o *options) {
		o.receive = rs.over(o.receive)
	}
}

func WithWorkers(n int) SubscriptionOption {
	return func(rs *ReceiveSettings) {
		if n > 0 {
			rs.Workers = n
		}
	}
}

func WithProcessTimeout(d time.Duration) SubscriptionOption {
	return func(rs *ReceiveSettings) {
		if d > 0 {
			rs.ProcessTimeout = d
		}
	}
}

func WithMaxAttempts(n int) SubscriptionOption {
	return func(rs *ReceiveSettings) {
		if n > 0 {
			rs.MaxAttempts = n
		}
	}
}

// WithDeadLetter republishes messages that fail permanently, or too often,
// to topic.
func WithDeadLetter(topic string) SubscriptionOption {
	return func(rs *ReceiveSettings) {
		rs.DeadLetterTopic = topic
	}
}

func WithDedupe(d Dedupe) SubscriptionOption {
	return func(rs *ReceiveSettings) {
		rs.Dedupe = d.over(rs.Dedupe)
	}
}

func WithOrderingKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.orderingKey = key
	}
}

// WithAttributes adds attrs to the published message; message attributes
// win on conflict.
func WithAttributes(attrs map[string]string) PublishOption {
	return func(o *publishOptions) {
		for k, v := range attrs {
			if o.attributes == nil {
				o.attributes = make(map[string]string, len(attrs))
			}
			o.attributes[k] = v
		}
	}
}

func WithPublishRetry(policy RetryPolicy) PublishOption {
	return func(o *publishOptions) {
		o.retry = policy.withDefaults()
	}
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 200 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.Multiplier <= 1 {
		r.Multiplier = 2
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		r.Jitter = 0
	}
	return r
}

func (r RetryPolicy) backOff() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialBackoff
	b.MaxInterval = r.MaxBackoff
	b.Multiplier = r.Multiplier
	b.RandomizationFactor = r.Jitter
	b.Reset()
	return b
}

// over fills the zero fields of rs from base.
func (rs ReceiveSettings) over(base ReceiveSettings) ReceiveSettings {
	if rs.Workers <= 0 {
		rs.Workers = base.Workers
	}
	if rs.Buffer <= 0 {
		rs.Buffer = base.Buffer
	}
	if rs.ProcessTimeout <= 0 {
		rs.ProcessTimeout = base.ProcessTimeout
	}
	if rs.MaxExtension <= 0 {
		rs.MaxExtension = base.MaxExtension
	}
	if rs.MaxAttempts <= 0 {
		rs.MaxAttempts = base.MaxAttempts
	}
	if rs.DeadLetterTopic == "" {
		rs.DeadLetterTopic = base.DeadLetterTopic
	}
	rs.Dedupe = rs.Dedupe.over(base.Dedupe)
	return rs
}

func (d Dedupe) over(base Dedupe) Dedupe {
	if d.TTL <= 0 {
		d.TTL = base.TTL
	}
	if d.Size <= 0 {
		d.Size = base.Size
	}
	if d.Store == nil {
		d.Store = base.Store
	}
	if d.Prefix == "" {
		d.Prefix = base.Prefix
	}
	d.Disabled = d.Disabled || base.Disabled
	return d
}
