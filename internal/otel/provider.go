// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mrzor/pwd-tracer/internal/config"
)

// TracerName identifies spans emitted by this program.
const TracerName = "github.com/mrzor/pwd-tracer"

// Provider wraps the tracer provider in use. With export disabled it hands
// out no-op tracers and Shutdown does nothing.
type Provider struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
}

// Tracer returns the tracer used for fork spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.provider.Tracer(TracerName)
}

// Enabled reports whether spans leave the process.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// InitProvider initializes the OpenTelemetry tracer provider. When no OTLP
// endpoint is configured it returns a no-op provider.
//
// Note: Uses OTLP/HTTP protocol. The HTTP client automatically honors HTTP_PROXY,
// HTTPS_PROXY, and NO_PROXY environment variables through Go's standard net/http transport.
func InitProvider(ctx context.Context, cfg *config.OTELConfig, logger *zap.Logger) (*Provider, error) {
	if !cfg.Enabled() {
		logger.Debug("span export disabled, no OTLP endpoint configured")
		return &Provider{provider: noop.NewTracerProvider()}, nil
	}

	endpoint := cfg.GetEndpoint()
	logger.Info("exporting spans",
		zap.String("service_name", cfg.ServiceName),
		zap.String("endpoint", endpoint),
		zap.String("resource_attributes", cfg.ResourceAttributes),
	)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	resourceAttrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}
	if customAttrs := cfg.ParseResourceAttributes(); len(customAttrs) > 0 {
		resourceAttrs = append(resourceAttrs, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, resourceAttrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Provider{provider: tp, sdk: tp}, nil
}

// Shutdown flushes any remaining spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}

	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
