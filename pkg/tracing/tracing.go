// Package tracing configures the OpenTelemetry tracer provider used by the
// engine runner and the HTTP middleware.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/JaimeStill/mender/pkg/lifecycle"
)

// Provider owns the process tracer provider.
type Provider struct {
	provider *sdktrace.TracerProvider
	traces   trace.TracerProvider
	name     string
	logger   *slog.Logger
}

// New builds a provider from cfg and installs it as the global provider.
// A disabled config yields a no-op provider.
func New(cfg *Config, logger *slog.Logger) (*Provider, error) {
	logger = logger.With("system", "tracing")

	if !cfg.Enabled {
		return &Provider{traces: noop.NewTracerProvider(), name: cfg.ServiceName, logger: logger}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New()
	case ExporterOTLP:
		exporter, err = otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{provider: tp, traces: tp, name: cfg.ServiceName, logger: logger}, nil
}

// TracerProvider returns the underlying provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.traces
}

// Tracer returns a tracer named after the service.
func (p *Provider) Tracer() trace.Tracer {
	return p.traces.Tracer(p.name)
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// Start registers a shutdown hook that flushes pending spans.
func (p *Provider) Start(lc *lifecycle.Coordinator) error {
	if p.provider == nil {
		return nil
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := p.provider.Shutdown(ctx); err != nil {
			p.logger.Error("tracer shutdown failed", "error", err)
			return
		}
		p.logger.Info("tracer flushed")
	})
	return nil
}
