package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gaborage/apiprobe/config"
)

func (p *provider) initMeterProvider(res *resource.Resource) error {
	exporter, err := p.createMetricExporter()
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if p.settings.MetricsInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(p.settings.MetricsInterval))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
	)
	return nil
}

// createMetricExporter mirrors createTraceExporter; metrics share endpoint and protocol with traces.
func (p *provider) createMetricExporter() (sdkmetric.Exporter, error) {
	s := p.settings
	if s.Endpoint == config.EndpointStdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(s.stdout), stdoutmetric.WithPrettyPrint())
	}

	switch s.Protocol {
	case config.ProtocolGRPC:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(s.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(s.Headers))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		var opts []otlpmetrichttp.Option
		if s.hasScheme() {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(s.Endpoint))
		} else {
			opts = append(opts, otlpmetrichttp.WithEndpoint(s.Endpoint))
		}
		if s.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(s.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(s.Headers))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	}
}

// CreateCounter creates a monotonic counter, such as attempts made.
//
// Example:
//
//	counter, err := CreateCounter(meter, "apiprobe.retry.attempts", "Attempts made")
//	if err != nil {
//	    return err
//	}
//	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "retry")))
func CreateCounter(meter metric.Meter, name, description string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return meter.Int64Counter(
		name,
		append([]metric.Int64CounterOption{
			metric.WithDescription(description),
		}, opts...)...,
	)
}

// CreateHistogram creates a histogram, such as send durations.
func CreateHistogram(meter metric.Meter, name, description string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return meter.Float64Histogram(
		name,
		append([]metric.Float64HistogramOption{
			metric.WithDescription(description),
		}, opts...)...,
	)
}
