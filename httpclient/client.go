package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gaborage/apiprobe/evidence"
	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/observability"
	"github.com/gaborage/apiprobe/retry"
	apitrace "github.com/gaborage/apiprobe/trace"
)

const (
	instrumentationName = "github.com/gaborage/apiprobe/httpclient"

	// DurationMetric records the duration of every physical send
	DurationMetric = "apiprobe.http.client.duration"

	// Evidence attachment names
	EvidenceRequest      = "HTTP request"
	EvidenceResponseMeta = "HTTP response meta"
	EvidenceResponseBody = "HTTP response body"
)

// client implements the Client interface
type client struct {
	config         Config
	logger         logger.Logger
	executor       *retry.Executor
	recorder       evidence.Recorder
	limiter        *rate.Limiter
	transport      nethttp.RoundTripper
	defaultHeaders nethttp.Header
	verifying      pool
	insecure       pool
	tracer         trace.Tracer
	duration       metric.Float64Histogram
	callCount      int64
}

// pool is a lazily built *http.Client whose transport is shared by all calls.
type pool struct {
	once   sync.Once
	client *nethttp.Client
}

// call is the immutable, per logical call view of a Request.
type call struct {
	req         *Request
	name        string
	url         string
	timeout     time.Duration
	verify      bool
	body        []byte
	contentType string
	callCount   int64
	start       time.Time
}

func (c *client) initTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	c.tracer = tp.Tracer(instrumentationName)

	hist, err := observability.CreateHistogram(mp.Meter(instrumentationName), DurationMetric,
		"Duration of HTTP client sends",
		metric.WithUnit("s"),
	)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to create HTTP duration histogram")
		return
	}
	c.duration = hist
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, path, opts...)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, path, opts...)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, path, opts...)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, path, opts...)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, path, opts...)
}

// Do performs one logical call under the client's retry policy
func (c *client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	req := newRequest(method, path, opts...)

	cl, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	exec := c.executor
	if len(req.retryOpts) > 0 {
		p, err := exec.Policy().With(req.retryOpts...)
		if err != nil {
			return nil, NewValidationError(err.Error(), "retry")
		}
		exec = exec.WithPolicy(p)
	}

	ctx, _ = apitrace.EnsureRequestID(ctx)
	c.logState(ctx, cl, StatePending, 0)

	resp, err := retry.Do(ctx, exec, cl.name, func(ctx context.Context) (*Response, error) {
		return c.send(ctx, cl)
	})
	if err != nil {
		c.logState(ctx, cl, StateFailed, 0)
		return nil, err
	}

	c.logState(ctx, cl, StateSucceeded, resp.Stats.Attempt)
	return resp, nil
}

func (c *client) prepare(req *Request) (*call, error) {
	if req.Method == "" {
		return nil, NewValidationError("method cannot be empty", "method")
	}
	if strings.ContainsAny(req.Method, " \t\r\n") {
		return nil, NewValidationError("invalid method "+req.Method, "method")
	}

	target, err := c.resolveURL(req)
	if err != nil {
		return nil, err
	}

	body, contentType, err := req.payload()
	if err != nil {
		return nil, err
	}

	timeout := c.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	verify := c.config.VerifyTLS
	if req.VerifyTLS != nil {
		verify = *req.VerifyTLS
	}

	return &call{
		req:         req,
		name:        req.Method + " " + req.Path,
		url:         target,
		timeout:     timeout,
		verify:      verify,
		body:        body,
		contentType: contentType,
		callCount:   atomic.AddInt64(&c.callCount, 1),
		start:       time.Now(),
	}, nil
}

// resolveURL appends the path to the base URL (absolute paths pass through)
// and merges query parameters.
func (c *client) resolveURL(req *Request) (string, error) {
	raw := req.Path
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if c.config.BaseURL == "" {
			return "", NewValidationError("relative path without base URL", "url")
		}
		raw = c.config.BaseURL + req.Path
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError("invalid URL: "+err.Error(), "url")
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// send is one attempt. It records evidence and is re-executed by the retry executor.
func (c *client) send(ctx context.Context, cl *call) (*Response, error) {
	attempt := retry.AttemptFromContext(ctx)
	if attempt > 1 {
		c.logState(ctx, cl, StateRetrying, attempt)
	}
	c.logState(ctx, cl, StateSending, attempt)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, NewNetworkError("rate limiter wait failed", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cl.timeout)
	defer cancel()

	attemptCtx, span := c.tracer.Start(attemptCtx, "HTTP "+cl.req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(cl.req.Method),
			semconv.URLFull(cl.url),
			semconv.HTTPRequestResendCount(max(attempt-1, 0)),
		),
	)
	defer span.End()

	httpReq, err := c.buildRequest(attemptCtx, cl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.recordRequest(ctx, cl)
	c.logger.Debug().
		Str("method", cl.req.Method).
		Str("url", cl.url).
		Interface("headers", httpReq.Header).
		Int("attempt", attempt).
		Msg("HTTP request")

	sendStart := time.Now()
	httpResp, err := c.httpClient(cl.verify).Do(httpReq)
	if err != nil {
		cerr := classifySendError(err, cl.timeout)
		c.observe(ctx, cl, sendStart, 0, cerr)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		return nil, cerr
	}

	resp, err := c.buildResponse(attemptCtx, cl, attempt, httpReq, httpResp)
	if err != nil {
		c.observe(ctx, cl, sendStart, httpResp.StatusCode, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.observe(ctx, cl, sendStart, resp.StatusCode, nil)
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, nethttp.StatusText(resp.StatusCode))
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Interface("headers", resp.Headers).
		Dur("elapsed", resp.Stats.ElapsedTime).
		Msg("HTTP response")
	c.recordResponse(ctx, resp)
	return resp, nil
}

func (c *client) httpClient(verify bool) *nethttp.Client {
	p := &c.insecure
	if verify {
		p = &c.verifying
	}
	p.once.Do(func() {
		p.client = &nethttp.Client{Transport: c.newTransport(verify)}
	})
	return p.client
}

func (c *client) newTransport(verify bool) nethttp.RoundTripper {
	if c.transport != nil {
		return c.transport
	}
	t := nethttp.DefaultTransport.(*nethttp.Transport).Clone()
	if !verify {
		t.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // opt-in via verify_ssl=false
		}
	}
	return t
}

// buildRequest constructs an *http.Request, applies headers/auth/correlation, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, cl *call) (*nethttp.Request, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, cl.req.Method, cl.url, body)
	if err != nil {
		return nil, NewValidationError("failed to create HTTP request: "+err.Error(), "url")
	}

	c.applyHeaders(httpReq, cl)
	c.applyAuth(httpReq, cl.req)
	apitrace.Inject(ctx, httpReq.Header)

	for _, interceptor := range c.config.RequestInterceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, NewInterceptorError("request interceptor failed", "request", err)
		}
	}
	return httpReq, nil
}

// applyHeaders copies defaults, then per-call headers which win on conflict
func (c *client) applyHeaders(httpReq *nethttp.Request, cl *call) {
	httpReq.Header = c.defaultHeaders.Clone()
	for key, value := range cl.req.Headers {
		httpReq.Header.Set(key, value)
	}
	if cl.contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", cl.contentType)
	}
}

// applyAuth prefers request credentials over client credentials
func (c *client) applyAuth(httpReq *nethttp.Request, req *Request) {
	auth := req.Auth
	if auth == nil {
		auth = c.config.BasicAuth
	}
	if auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
}

// buildResponse runs response interceptors, reads body, and builds a Response.
func (c *client) buildResponse(ctx context.Context, cl *call, attempt int, httpReq *nethttp.Request, httpResp *nethttp.Response) (*Response, error) {
	defer httpResp.Body.Close()

	for _, interceptor := range c.config.ResponseInterceptors {
		if err := interceptor(ctx, httpReq, httpResp); err != nil {
			return nil, NewInterceptorError("response interceptor failed", "response", err)
		}
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifySendError(err, cl.timeout)
	}

	finalURL := cl.url
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
		URL:        finalURL,
		Stats: Stats{
			ElapsedTime: time.Since(cl.start),
			CallCount:   cl.callCount,
			Attempt:     attempt,
		},
	}, nil
}

func (c *client) observe(ctx context.Context, cl *call, start time.Time, status int, err error) {
	if c.duration == nil {
		return
	}
	attrs := []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(cl.req.Method)}
	if status > 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCode(status))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.type", errorTypeOf(err)))
	}
	c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

func errorTypeOf(err error) string {
	for _, t := range []ErrorType{TimeoutError, NetworkError, InterceptorError, ValidationError} {
		if IsErrorType(err, t) {
			return string(t)
		}
	}
	return "other"
}

func (c *client) logState(ctx context.Context, cl *call, state CallState, attempt int) {
	trace.SpanFromContext(ctx).AddEvent("call_state", trace.WithAttributes(
		attribute.String("state", state.String()),
		attribute.Int("attempt", attempt),
	))
	c.logger.Debug().
		Str("call", cl.name).
		Str("state", state.String()).
		Int("attempt", attempt).
		Int64("call_count", cl.callCount).
		Msg("HTTP call state")
}
