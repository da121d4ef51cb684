// Package telemetry provides OpenTelemetry tracing and Pyroscope profiling
// for the server.
//
// A Provider is created by the service that owns it and shut down with it.
// Nothing is installed globally: a disabled Provider hands out a no-op
// tracer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const shutdownTimeout = 5 * time.Second

// Provider owns the tracer provider and profiler of one service.
type Provider struct {
	tracer     trace.Tracer
	tp         *sdktrace.TracerProvider
	profiler   *pyroscope.Profiler
	propagator propagation.TextMapPropagator
}

// Disabled returns a Provider whose tracer records nothing.
func Disabled() *Provider {
	return &Provider{
		tracer:     noop.NewTracerProvider().Tracer(ServiceName),
		propagator: propagation.TraceContext{},
	}
}

// Start creates a Provider from cfg. The OTLP exporter connects lazily, so
// an unreachable collector does not fail startup.
func Start(ctx context.Context, cfg Config) (*Provider, error) {
	p := Disabled()
	version := buildVersion()

	if cfg.Enabled {
		var opts []otlptracegrpc.Option
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(ServiceName),
				semconv.ServiceVersion(version),
			),
			resource.WithHost(),
			resource.WithProcess(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}

		p.useTracerProvider(sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(cfg.SampleRate)),
		))
	}

	if cfg.Profiling.Enabled {
		profiler, err := startProfiling(cfg.Profiling, version)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		p.profiler = profiler
	}

	return p, nil
}

func (p *Provider) useTracerProvider(tp *sdktrace.TracerProvider) {
	p.tp = tp
	p.tracer = tp.Tracer(ServiceName)
	p.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans and stops the profiler.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := p.tp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.profiler != nil {
		if err := p.profiler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("profiler: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}
