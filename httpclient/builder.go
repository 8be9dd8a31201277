package httpclient

import (
	"fmt"
	"maps"
	nethttp "net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gaborage/apiprobe/config"
	"github.com/gaborage/apiprobe/evidence"
	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/retry"
)

const (
	// DefaultTimeout bounds each attempt when nothing else is configured
	DefaultTimeout = 10 * time.Second
)

// Builder provides a fluent interface for configuring the client
type Builder struct {
	config         *Config
	logger         logger.Logger
	policy         *retry.Policy
	recorder       evidence.Recorder
	transport      nethttp.RoundTripper
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	executorOpts   []retry.ExecutorOption
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		config: &Config{
			Timeout:              DefaultTimeout,
			VerifyTLS:            true,
			RequestInterceptors:  []RequestInterceptor{},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       make(map[string]string),
		},
		logger: log,
	}
}

// BuilderFromConfig seeds a builder with the request and retry settings of cfg.
func BuilderFromConfig(cfg *config.Config, log logger.Logger) (*Builder, error) {
	policy, err := retry.FromConfig(cfg.Retry)
	if err != nil {
		return nil, err
	}
	return NewBuilder(log).
		WithBaseURL(cfg.BaseURL).
		WithTimeout(cfg.Request.Timeout).
		WithVerifyTLS(cfg.Request.VerifySSL).
		WithDefaultHeaders(cfg.Request.DefaultHeaders).
		WithRateLimit(cfg.Request.RateLimit, cfg.Request.Burst).
		WithRetryPolicy(policy), nil
}

// NewFromConfig builds a client from cfg that records evidence into rec.
func NewFromConfig(cfg *config.Config, log logger.Logger, rec evidence.Recorder) (Client, error) {
	b, err := BuilderFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	return b.WithRecorder(rec).Build()
}

// WithBaseURL sets the URL every request path is appended to
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithTimeout sets the default per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithVerifyTLS sets the default certificate verification
func (b *Builder) WithVerifyTLS(verify bool) *Builder {
	b.config.VerifyTLS = verify
	return b
}

// WithBasicAuth sets basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithDefaultHeaders adds several default headers
func (b *Builder) WithDefaultHeaders(headers map[string]string) *Builder {
	maps.Copy(b.config.DefaultHeaders, headers)
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithRateLimit paces physical sends to rps per second with the given burst; 0 disables it
func (b *Builder) WithRateLimit(rps float64, burst int) *Builder {
	b.config.RateLimit = rps
	b.config.Burst = burst
	return b
}

// WithRetryPolicy sets the client's default retry policy. Without error kinds,
// only network and timeout errors are retried.
func (b *Builder) WithRetryPolicy(p retry.Policy) *Builder {
	b.policy = &p
	return b
}

// WithRecorder sets where request and response evidence is attached
func (b *Builder) WithRecorder(rec evidence.Recorder) *Builder {
	b.recorder = rec
	return b
}

// WithTransport replaces both connection pools with rt
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithTracerProvider sets the provider for attempt and retry spans
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	b.executorOpts = append(b.executorOpts, retry.WithTracerProvider(tp))
	return b
}

// WithMeterProvider sets the provider for duration and attempt metrics
func (b *Builder) WithMeterProvider(mp metric.MeterProvider) *Builder {
	b.meterProvider = mp
	b.executorOpts = append(b.executorOpts, retry.WithMeterProvider(mp))
	return b
}

// WithExecutorOptions passes options to the underlying retry executor
func (b *Builder) WithExecutorOptions(opts ...retry.ExecutorOption) *Builder {
	b.executorOpts = append(b.executorOpts, opts...)
	return b
}

// Build creates the client with the configured options
func (b *Builder) Build() (Client, error) {
	cfg := *b.config
	cfg.DefaultHeaders = maps.Clone(b.config.DefaultHeaders)

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, NewValidationError(fmt.Sprintf("base URL %q must be absolute", cfg.BaseURL), "base_url")
		}
	}
	if cfg.Timeout <= 0 {
		return nil, NewValidationError("timeout must be positive", "timeout")
	}
	if cfg.RateLimit < 0 {
		return nil, NewValidationError("rate limit must not be negative", "rate_limit")
	}

	policy := retry.DefaultPolicy()
	if b.policy != nil {
		policy = *b.policy
	}
	if !policy.HasErrorKinds() {
		var err error
		policy, err = policy.With(retry.WithRetryOn(TransportErrors()...))
		if err != nil {
			return nil, err
		}
	}

	recorder := b.recorder
	if recorder == nil {
		recorder = evidence.Nop{}
	}

	c := &client{
		config:         cfg,
		logger:         logger.Named(b.logger, "http"),
		executor:       retry.NewExecutor(policy, b.logger, b.executorOpts...),
		recorder:       recorder,
		transport:      b.transport,
		defaultHeaders: canonicalHeaders(cfg.DefaultHeaders),
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.Burst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	c.initTelemetry(b.tracerProvider, b.meterProvider)
	return c, nil
}

func canonicalHeaders(headers map[string]string) nethttp.Header {
	h := make(nethttp.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}
