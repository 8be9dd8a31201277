// Package stub serves the subset of the httpbin API the acceptance suite
// exercises, so the suite and the CLI can run without the public service.
package stub

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/apiprobe/logger"
)

// ServiceName names the stub's server spans.
const ServiceName = "httpbin-stub"

// Option configures a Stub.
type Option func(*Stub)

// WithFlakiness answers the first n requests with status before serving
// normally. It makes retry scenarios deterministic.
func WithFlakiness(n int, status int) Option {
	return func(s *Stub) {
		s.failFirst = int64(max(n, 0))
		s.failStatus = status
	}
}

// WithTracerProvider sets the provider for server spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Stub) {
		s.tracerProvider = tp
	}
}

// Stub is an httpbin-compatible echo server.
type Stub struct {
	echo           *echo.Echo
	log            logger.Logger
	tracerProvider trace.TracerProvider
	failFirst      int64
	failStatus     int
	hits           atomic.Int64
}

// New builds a stub with its routes and middlewares registered.
func New(log logger.Logger, opts ...Option) *Stub {
	s := &Stub{
		log:        logger.Named(log, "stub"),
		failStatus: http.StatusServiceUnavailable,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s.echo = e

	s.setupMiddlewares()
	s.registerRoutes()

	return s
}

func (s *Stub) setupMiddlewares() {
	otelOpts := []otelecho.Option{
		otelecho.WithPropagators(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		)),
	}
	if s.tracerProvider != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(s.tracerProvider))
	}
	s.echo.Use(otelecho.Middleware(ServiceName, otelOpts...))

	s.echo.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.Error().
				Err(err).
				Str("request_id", c.Request().Header.Get(echo.HeaderXRequestID)).
				Bytes("stack", stack).
				Msg("Panic recovered")
			return err
		},
	}))

	s.echo.Use(requestLogger(s.log))
	s.echo.Use(s.flaky)
}

func (s *Stub) registerRoutes() {
	s.echo.GET("/get", s.echoRequest)
	s.echo.POST("/post", s.echoRequest)
	s.echo.PUT("/put", s.echoRequest)
	s.echo.PATCH("/patch", s.echoRequest)
	s.echo.DELETE("/delete", s.echoRequest)
	s.echo.Any("/anything", s.echoRequest)
	s.echo.Any("/anything/*", s.echoRequest)

	s.echo.GET("/json", slideshow)
	s.echo.GET("/html", mobyDick)
	s.echo.GET("/headers", headers)
	s.echo.GET("/user-agent", userAgent)
	s.echo.GET("/uuid", newUUID)
	s.echo.Any("/status/:code", status)
}

// flaky counts every request and fails the first failFirst of them.
func (s *Stub) flaky(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		n := s.hits.Add(1)
		if n <= s.failFirst {
			return c.NoContent(s.failStatus)
		}
		return next(c)
	}
}

// Hits returns the number of requests received so far.
func (s *Stub) Hits() int64 {
	return s.hits.Load()
}

// ServeHTTP makes the stub usable with httptest.NewServer.
func (s *Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves the stub on addr and blocks until it is shut down.
func (s *Stub) Start(addr string) error {
	s.log.Info().
		Str("address", addr).
		Int64("fail_first", s.failFirst).
		Int("fail_status", s.failStatus).
		Msg("Starting httpbin stub...")

	// Shutdown stops echo's own server, so Start must serve through it.
	s.echo.Server.ReadHeaderTimeout = 5 * time.Second
	return s.echo.Start(addr)
}

// Addr returns the listener address once Start is serving, nil before.
func (s *Stub) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Shutdown gracefully stops a stub started with Start.
func (s *Stub) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger logs one line per request at a level derived from the status.
func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status

			var event logger.LogEvent
			switch {
			case status >= http.StatusInternalServerError:
				event = log.Error()
			case status >= http.StatusBadRequest:
				event = log.Warn()
			default:
				event = log.Debug()
			}
			event.
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("request_id", req.Header.Get(echo.HeaderXRequestID)).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("Request completed")
			return nil
		}
	}
}
