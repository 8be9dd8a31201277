package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gaborage/apiprobe/config"
	"github.com/gaborage/apiprobe/testing/mocks"
)

const (
	testServiceName = "apiprobe-test"
	testSpanName    = "test-span"
)

func testConfig(obs config.ObservabilityConfig) *config.Config {
	return &config.Config{
		App:           config.AppConfig{Name: "apiprobe", Version: "1.0.0", Env: config.EnvCI},
		Observability: obs,
	}
}

func enabled(endpoint, protocol string) config.ObservabilityConfig {
	return config.ObservabilityConfig{
		Enabled:         true,
		ServiceName:     testServiceName,
		Endpoint:        endpoint,
		Protocol:        protocol,
		SampleRate:      1.0,
		MetricsInterval: time.Minute,
	}
}

// restoreGlobals puts the otel globals back after a test that installs them.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNewProviderDisabled(t *testing.T) {
	for name, cfg := range map[string]*config.Config{
		"nil config": nil,
		"disabled":   testConfig(config.ObservabilityConfig{Enabled: false}),
	} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(cfg)
			require.NoError(t, err)

			_, ok := p.(noopProvider)
			assert.True(t, ok, "expected noopProvider when disabled")
			assert.IsType(t, noop.TracerProvider{}, p.TracerProvider())
			assert.IsType(t, metricnoop.MeterProvider{}, p.MeterProvider())
			assert.NoError(t, p.ForceFlush(context.Background()))
			assert.NoError(t, p.Shutdown(context.Background()))
		})
	}
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ObservabilityConfig)
		want   error
	}{
		{"missing service name", func(c *config.ObservabilityConfig) { c.ServiceName = "" }, ErrMissingServiceName},
		{"missing endpoint", func(c *config.ObservabilityConfig) { c.Endpoint = "" }, ErrMissingEndpoint},
		{"negative sample rate", func(c *config.ObservabilityConfig) { c.SampleRate = -0.1 }, ErrInvalidSampleRate},
		{"sample rate above one", func(c *config.ObservabilityConfig) { c.SampleRate = 1.5 }, ErrInvalidSampleRate},
		{"unknown protocol", func(c *config.ObservabilityConfig) { c.Protocol = "udp" }, ErrInvalidProtocol},
		{"grpc with scheme", func(c *config.ObservabilityConfig) {
			c.Protocol = config.ProtocolGRPC
			c.Endpoint = "http://localhost:4317"
		}, ErrInvalidEndpointFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := enabled("localhost:4318", config.ProtocolHTTP)
			tt.mutate(&obs)

			p, err := NewProvider(testConfig(obs), WithoutGlobals())
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewProviderStdoutExportsSpansAndMetrics(t *testing.T) {
	var out bytes.Buffer
	p, err := NewProvider(testConfig(enabled(config.EndpointStdout, config.ProtocolHTTP)),
		WithStdoutWriter(&out), WithoutGlobals())
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), testSpanName)
	span.End()

	counter, err := CreateCounter(p.MeterProvider().Meter("test"), "apiprobe.test.counter", "test counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	require.NoError(t, Shutdown(p, time.Second))
	assert.Contains(t, out.String(), testSpanName)
	assert.Contains(t, out.String(), "apiprobe.test.counter")
	assert.Contains(t, out.String(), testServiceName)
}

func TestNewProviderInstallsGlobals(t *testing.T) {
	restoreGlobals(t)

	p, err := NewProvider(testConfig(enabled(config.EndpointStdout, config.ProtocolHTTP)),
		WithStdoutWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(p, time.Second) })

	assert.Same(t, p.TracerProvider(), otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestNewProviderOTLPExporters(t *testing.T) {
	for _, tc := range []struct {
		name     string
		endpoint string
		protocol string
		insecure bool
	}{
		{"http host port", "localhost:4318", config.ProtocolHTTP, true},
		{"http url", "https://otel.example.com:4318", config.ProtocolHTTP, false},
		{"grpc", "localhost:4317", config.ProtocolGRPC, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			obs := enabled(tc.endpoint, tc.protocol)
			obs.Insecure = tc.insecure
			obs.Headers = map[string]string{"api-key": "secret"}

			p, err := NewProvider(testConfig(obs), WithoutGlobals())
			require.NoError(t, err)
			assert.NotNil(t, p.TracerProvider())
			assert.NotNil(t, p.MeterProvider())

			// Nothing listens on the endpoints; only construction is under test.
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_ = p.Shutdown(ctx)
		})
	}
}

func TestNewProviderWarnsOnZeroSampleRate(t *testing.T) {
	log := mocks.NewLogger()
	obs := enabled(config.EndpointStdout, config.ProtocolHTTP)
	obs.SampleRate = 0

	p, err := NewProvider(testConfig(obs), WithLogger(log), WithStdoutWriter(&bytes.Buffer{}), WithoutGlobals())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(p, time.Second) })

	assert.True(t, log.Contains("warn", "sample rate is 0.0"))

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), testSpanName)
	assert.False(t, span.IsRecording())
	span.End()
}

func TestCreateInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	counter, err := CreateCounter(meter, "calls", "Calls made", metric.WithUnit("{call}"))
	require.NoError(t, err)
	hist, err := CreateHistogram(meter, "latency", "Latency", metric.WithUnit("s"))
	require.NoError(t, err)

	counter.Add(context.Background(), 3)
	hist.Record(context.Background(), 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	assert.Equal(t, "Calls made", byName["calls"].Description)
	assert.Equal(t, "{call}", byName["calls"].Unit)
	sum := byName["calls"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
	assert.Equal(t, "s", byName["latency"].Unit)
}

type stubProvider struct {
	shutdownErr error
	deadline    bool
}

func (s *stubProvider) TracerProvider() trace.TracerProvider { return noop.NewTracerProvider() }
func (s *stubProvider) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }
func (s *stubProvider) ForceFlush(context.Context) error     { return nil }
func (s *stubProvider) Shutdown(ctx context.Context) error {
	_, s.deadline = ctx.Deadline()
	return s.shutdownErr
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, Shutdown(nil, time.Second))

	ok := &stubProvider{}
	assert.NoError(t, Shutdown(ok, 0))
	assert.True(t, ok.deadline, "default timeout should be applied")

	boom := errors.New("boom")
	err := Shutdown(&stubProvider{shutdownErr: boom}, time.Second)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "observability shutdown failed")
}
