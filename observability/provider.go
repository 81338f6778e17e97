// Package observability installs the OpenTelemetry SDK providers that export
// the metrics and spans recorded by the statement engine.
//
// The engine instruments itself through the otel globals, so an application
// only needs to create a Provider at startup and shut it down on exit:
//
//	telemetry, err := observability.NewProvider(ctx, cfg.Telemetry, cfg.App.Name, log)
//	if err != nil {
//		return err
//	}
//	defer telemetry.Shutdown(context.Background())
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/gaborage/rxdao/config"
	"github.com/gaborage/rxdao/logger"
)

const defaultInterval = 30 * time.Second

// ErrInvalidProtocol is returned when an OTLP endpoint is configured with a
// protocol other than "http" or "grpc".
var ErrInvalidProtocol = errors.New("observability: protocol must be either 'http' or 'grpc'")

// Option customizes a Provider.
type Option func(*options)

type options struct {
	writer  io.Writer
	global  bool
	version string
}

// WithWriter sends stdout exports to w instead of os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithoutGlobals keeps the providers local instead of installing them as the
// otel globals.
func WithoutGlobals() Option {
	return func(o *options) { o.global = false }
}

// WithServiceVersion records the service version on the exported resource.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Provider owns the SDK tracer and meter providers.
// A disabled Provider hands out no-op implementations.
type Provider struct {
	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	log     logger.Logger
	mu      sync.Mutex
}

// NewProvider builds the tracer and meter providers described by cfg and
// installs them, together with the W3C propagators, as the otel globals.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, service string, log logger.Logger, opts ...Option) (*Provider, error) {
	if log == nil {
		log = logger.New("disabled", false)
	}
	o := options{writer: os.Stdout, global: true}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{log: log}
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry export disabled")
		return p, nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.TelemetryStdout
	}
	if cfg.Metrics.Interval <= 0 {
		cfg.Metrics.Interval = defaultInterval
	}

	res, err := newResource(ctx, service, o.version)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	spans, err := newSpanExporter(ctx, &cfg, o.writer)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metrics, err := newMetricExporter(ctx, &cfg, o.writer)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create metric exporter: %w", err), spans.Shutdown(ctx))
	}

	p.tracers = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Trace.Sample.Rate))),
	)
	p.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(cfg.Metrics.Interval))),
	)

	if o.global {
		otel.SetTracerProvider(p.tracers)
		otel.SetMeterProvider(p.meters)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("protocol", cfg.Protocol).
		Dur("interval", cfg.Metrics.Interval).
		Msg("Telemetry export enabled")
	return p, nil
}

func newResource(ctx context.Context, service, version string) (*resource.Resource, error) {
	custom, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), custom)
}

// Enabled reports whether telemetry is exported.
func (p *Provider) Enabled() bool {
	return p.tracers != nil
}

// TracerProvider returns the SDK tracer provider, or a no-op one when disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracers == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.tracers
}

// MeterProvider returns the SDK meter provider, or a no-op one when disabled.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meters == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.meters
}

// ForceFlush exports pending spans and collects metrics immediately.
func (p *Provider) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.tracers != nil {
		if err := p.tracers.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush trace provider: %w", err))
		}
	}
	if p.meters != nil {
		if err := p.meters.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops both providers. It is safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.tracers != nil {
		if err := p.tracers.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown trace provider: %w", err))
		}
		p.tracers = nil
	}
	if p.meters != nil {
		if err := p.meters.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
		p.meters = nil
	}
	if err := errors.Join(errs...); err != nil {
		p.log.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		return err
	}
	return nil
}

// ShutdownWithTimeout bounds Shutdown by timeout.
func ShutdownWithTimeout(p *Provider, timeout time.Duration) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Shutdown(ctx)
}
