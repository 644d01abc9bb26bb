package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Exporter owns the meter provider and its OTLP pipeline.
type Exporter struct {
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	resource         *resource.Resource
	reader           sdkmetric.Reader
	serviceName      string
	serviceNamespace string
	serviceVersion   string
	otlpEndpoint     string
	otlpGRPCEndpoint string
	environment      string
	interval         time.Duration
}

type Option func(*Exporter)

func WithServiceName(name string) Option {
	return func(e *Exporter) {
		e.serviceName = name
	}
}

func WithServiceNamespace(namespace string) Option {
	return func(e *Exporter) {
		e.serviceNamespace = namespace
	}
}

func WithServiceVersion(version string) Option {
	return func(e *Exporter) {
		e.serviceVersion = version
	}
}

// WithOTLPEndpoint sets the OTLP HTTP endpoint
func WithOTLPEndpoint(endpoint string) Option {
	return func(e *Exporter) {
		e.otlpEndpoint = endpoint
	}
}

// WithOTLPGRPCEndpoint sets the OTLP gRPC endpoint; it wins over HTTP.
func WithOTLPGRPCEndpoint(endpoint string) Option {
	return func(e *Exporter) {
		e.otlpGRPCEndpoint = endpoint
	}
}

func WithEnvironment(env string) Option {
	return func(e *Exporter) {
		e.environment = env
	}
}

func WithInterval(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithReader replaces the OTLP pipeline, e.g. with a manual reader in tests.
func WithReader(r sdkmetric.Reader) Option {
	return func(e *Exporter) {
		e.reader = r
	}
}

func defaultConfig() *Exporter {
	return &Exporter{
		serviceName:      "substreams-sink-pubsub",
		serviceNamespace: "default",
		serviceVersion:   "1.0.0",
		otlpEndpoint:     "localhost:4318",
		environment:      "development",
		interval:         10 * time.Second,
	}
}

// NewExporter builds the meter provider and installs it globally.
func NewExporter(ctx context.Context, opts ...Option) (*Exporter, error) {
	e := defaultConfig()
	for _, opt := range opts {
		opt(e)
	}

	if e.reader == nil && e.otlpGRPCEndpoint == "" && e.otlpEndpoint == "" {
		return nil, fmt.Errorf("OTLP HTTP endpoint is required when gRPC endpoint is not configured")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(e.serviceName),
			semconv.ServiceNamespace(e.serviceNamespace),
			semconv.ServiceVersion(e.serviceVersion),
			semconv.DeploymentEnvironment(e.environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	reader := e.reader
	if reader == nil {
		exporter, err := e.otlpExporter(ctx)
		if err != nil {
			return nil, err
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(e.interval))
	}

	e.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(e.meterProvider)

	e.meter = e.meterProvider.Meter(e.serviceName)
	e.resource = res
	e.reader = reader
	return e, nil
}

func (e *Exporter) otlpExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if e.otlpGRPCEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(e.otlpGRPCEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
		}
		return exporter, nil
	}
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(e.otlpEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}

func (e *Exporter) Meter() metric.Meter {
	return e.meter
}

// Close flushes pending data and shuts the pipeline down.
func (e *Exporter) Close(ctx context.Context) error {
	return e.meterProvider.Shutdown(ctx)
}
