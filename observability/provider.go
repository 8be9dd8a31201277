// Package observability wires OpenTelemetry tracing and metrics for the
// harness. Exporters are chosen from config: stdout for local runs, OTLP over
// HTTP or gRPC otherwise. When disabled every provider is a no-op.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gaborage/apiprobe/config"
	"github.com/gaborage/apiprobe/logger"
)

// Provider manages the lifecycle of the tracer and meter providers.
type Provider interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider

	// Shutdown flushes pending telemetry and releases exporters.
	Shutdown(ctx context.Context) error
	ForceFlush(ctx context.Context) error
}

// Option configures NewProvider.
type Option func(*options)

type options struct {
	log    logger.Logger
	stdout io.Writer
	global bool
}

// WithLogger sets the logger used while building exporters.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStdoutWriter redirects the stdout exporters. Defaults to os.Stderr so
// telemetry never mixes with command output.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithoutGlobals keeps the otel global providers and propagator untouched.
func WithoutGlobals() Option {
	return func(o *options) { o.global = false }
}

type provider struct {
	settings       settings
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	mu             sync.Mutex
}

// settings is the slice of config the provider needs.
type settings struct {
	config.ObservabilityConfig
	version     string
	environment string
	stdout      io.Writer
	log         logger.Logger
}

// NewProvider builds tracer and meter providers from cfg.Observability.
// Disabled telemetry yields a no-op provider. Unless WithoutGlobals is given
// the providers and a W3C trace context propagator are installed globally.
func NewProvider(cfg *config.Config, opts ...Option) (Provider, error) {
	o := options{stdout: os.Stderr, global: true}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.Named(o.log, "observability")

	if cfg == nil || !cfg.Observability.Enabled {
		log.Debug().Msg("Observability disabled, using no-op provider")
		return newNoopProvider(), nil
	}

	s := settings{
		ObservabilityConfig: cfg.Observability,
		version:             cfg.App.Version,
		environment:         cfg.App.Env,
		stdout:              o.stdout,
		log:                 log,
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	if s.SampleRate == 0 {
		log.Warn().Msg("Trace sample rate is 0.0, no spans will be recorded")
	}

	p := &provider{settings: s}
	res, err := p.createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := p.initTraceProvider(res); err != nil {
		return nil, fmt.Errorf("failed to initialize trace provider: %w", err)
	}
	if err := p.initMeterProvider(res); err != nil {
		_ = p.tracerProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}

	if o.global {
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetMeterProvider(p.meterProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	log.Info().
		Str("endpoint", s.Endpoint).
		Str("protocol", s.Protocol).
		Str("service", s.ServiceName).
		Msg("Observability provider created")
	return p, nil
}

func (s settings) validate() error {
	if s.ServiceName == "" {
		return ErrMissingServiceName
	}
	if s.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		return ErrInvalidSampleRate
	}
	if s.Endpoint == config.EndpointStdout {
		return nil
	}
	switch s.Protocol {
	case config.ProtocolHTTP:
	case config.ProtocolGRPC:
		if strings.Contains(s.Endpoint, "://") {
			return fmt.Errorf("grpc endpoint %q must be host:port: %w", s.Endpoint, ErrInvalidEndpointFormat)
		}
	default:
		return fmt.Errorf("protocol '%s': %w", s.Protocol, ErrInvalidProtocol)
	}
	return nil
}

// hasScheme reports whether an HTTP endpoint is a full URL rather than host:port.
func (s settings) hasScheme() bool {
	return strings.HasPrefix(s.Endpoint, "http://") || strings.HasPrefix(s.Endpoint, "https://")
}

func (p *provider) createResource() (*resource.Resource, error) {
	attrs := resource.WithAttributes(
		semconv.ServiceName(p.settings.ServiceName),
		semconv.ServiceVersion(valueOr(p.settings.version, "unknown")),
		semconv.DeploymentEnvironmentName(valueOr(p.settings.environment, config.EnvDevelopment)),
	)
	custom, err := resource.New(context.Background(), attrs)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), custom)
}

func (p *provider) initTraceProvider(res *resource.Resource) error {
	exporter, err := p.createTraceExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.settings.SampleRate))),
	)
	return nil
}

func (p *provider) createTraceExporter() (sdktrace.SpanExporter, error) {
	s := p.settings
	if s.Endpoint == config.EndpointStdout {
		return stdouttrace.New(stdouttrace.WithWriter(s.stdout), stdouttrace.WithPrettyPrint())
	}

	switch s.Protocol {
	case config.ProtocolGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(s.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(s.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	default:
		var opts []otlptracehttp.Option
		if s.hasScheme() {
			opts = append(opts, otlptracehttp.WithEndpointURL(s.Endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(s.Endpoint))
		}
		if s.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(s.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(s.Headers))
		}
		return otlptracehttp.New(context.Background(), opts...)
	}
}

// TracerProvider returns the configured trace provider.
func (p *provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return noop.NewTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the configured meter provider.
func (p *provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.meterProvider
}

// Shutdown gracefully shuts down both providers.
func (p *provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// ForceFlush immediately exports pending telemetry.
func (p *provider) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush trace provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush meter provider: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("flush errors: %w", errors.Join(errs...))
	}
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
