// Package tracing wires OpenTelemetry spans around the four pipeline
// stages (ingest, normalize, cluster, correlate), adapted from the
// teacher's pkg/tracing/tracing.go down to the single OTLP-over-HTTP
// exporter path this deployment actually uses.
package tracing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures distributed tracing.
type Config struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Endpoint     string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Manager owns the tracer provider and exposes the tracer pipeline stages
// use to start spans.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager builds a Manager. When config.Enabled is false the returned
// Manager hands out a no-op tracer so callers never need to branch on
// whether tracing is on.
func NewManager(config Config, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if !config.Enabled {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpointURL(m.config.Endpoint),
	))
	if err != nil {
		return fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(m.config.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"component":    "tracing",
		"service_name": m.config.ServiceName,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("tracing_initialized")
	return nil
}

// Tracer returns the tracer used to start pipeline-stage spans.
func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracer
}

// Shutdown flushes and stops the tracer provider. A no-op when tracing is
// disabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartStage starts a span named for the given pipeline stage
// ("normalize", "cluster", "correlate", "changestream"), tagging it with
// the batch size under processing.
func (m *Manager) StartStage(ctx context.Context, stage string, batchSize int) (context.Context, oteltrace.Span) {
	ctx, span := m.tracer.Start(ctx, "pipeline."+stage)
	span.SetAttributes(
		attribute.String("pipeline.stage", stage),
		attribute.Int("pipeline.batch_size", batchSize),
	)
	return ctx, span
}
