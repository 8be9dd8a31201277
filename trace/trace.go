// Package trace carries request correlation identifiers through a logical call.
//
// A request ID is generated once per logical call and sent as X-Request-ID on
// every physical attempt, so all retries of one call share it. W3C trace
// context is injected through the OpenTelemetry propagator when a span is
// active; otherwise a fresh traceparent is generated.
package trace

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type contextKey struct{}

const (
	// HeaderXRequestID is the correlation header sent on every attempt
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = "traceparent"
	// HeaderTraceState is the W3C trace context "tracestate" header name
	HeaderTraceState = "tracestate"
)

// NewRequestID returns a random UUID string.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// RequestIDFromContext returns the request ID stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// EnsureRequestID returns ctx unchanged when it already has a request ID,
// otherwise a derived context holding a new one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := NewRequestID()
	return WithRequestID(ctx, id), id
}

// Inject writes correlation headers for ctx into h. Existing X-Request-ID and
// traceparent values set by the caller are kept.
func Inject(ctx context.Context, h http.Header) {
	if h.Get(HeaderXRequestID) == "" {
		if id, ok := RequestIDFromContext(ctx); ok {
			h.Set(HeaderXRequestID, id)
		}
	}
	if h.Get(HeaderTraceParent) != "" {
		return
	}
	if oteltrace.SpanContextFromContext(ctx).IsValid() {
		propagator().Inject(ctx, propagation.HeaderCarrier(h))
	}
	if h.Get(HeaderTraceParent) == "" {
		h.Set(HeaderTraceParent, GenerateTraceParent())
	}
}

// propagator falls back to W3C trace context when the global one is empty.
func propagator() propagation.TextMapPropagator {
	p := otel.GetTextMapPropagator()
	if len(p.Fields()) == 0 {
		return propagation.TraceContext{}
	}
	return p
}

// GenerateTraceParent creates a sampled W3C traceparent with random IDs.
// Format: version(2)-trace-id(32)-span-id(16)-flags(2)
func GenerateTraceParent() string {
	var traceID oteltrace.TraceID
	var spanID oteltrace.SpanID
	_, _ = crand.Read(traceID[:])
	_, _ = crand.Read(spanID[:])
	if !traceID.IsValid() {
		traceID[len(traceID)-1] = 0x01
	}
	if !spanID.IsValid() {
		spanID[len(spanID)-1] = 0x01
	}
	return "00-" + hex.EncodeToString(traceID[:]) + "-" + hex.EncodeToString(spanID[:]) + "-01"
}
