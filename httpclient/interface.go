// Package httpclient sends HTTP requests with retries, evidence recording and
// correlation headers.
//
// Every logical call (one Do) is executed by a retry.Executor: each attempt
// builds a fresh *http.Request, records it as evidence, sends it over a shared
// connection pool and records the response. Responses with any status are
// results; only statuses listed in the retry policy are retried.
package httpclient

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/apiprobe/trace"
)

const (
	// HeaderXRequestID is the correlation header, identical across retries of one call
	HeaderXRequestID = trace.HeaderXRequestID
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = trace.HeaderTraceParent
)

// Client defines the harness HTTP client. Paths are relative to the base URL.
type Client interface {
	Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
	Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error)
}

// Stats contains request execution statistics
type Stats struct {
	// ElapsedTime is measured from the start of the logical call, retries included
	ElapsedTime time.Duration
	// CallCount is the client-wide sequence number of the logical call
	CallCount int64
	// Attempt is the attempt that produced the response
	Attempt int
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending each attempt
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving each attempt's response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the client configuration assembled by Builder
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	VerifyTLS            bool
	DefaultHeaders       map[string]string
	BasicAuth            *BasicAuth
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	// RateLimit caps physical sends per second; 0 disables pacing
	RateLimit float64
	Burst     int
}
