package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/observability"
)

const (
	instrumentationName = "github.com/gaborage/apiprobe/retry"

	// AttemptsMetric counts every attempt made by an Executor.
	AttemptsMetric = "apiprobe.retry.attempts"

	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeGiveUp  = "give_up"
	outcomeFatal   = "non_retryable"
)

// ErrNilExecutor is returned by Do when called without an executor.
var ErrNilExecutor = errors.New("retry: nil executor")

// Operation is a retryable unit of work. It must be safe to call repeatedly.
type Operation[T any] func(ctx context.Context) (T, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// JitterFunc returns a random duration in [0, bound].
type JitterFunc func(bound time.Duration) time.Duration

// AttemptState tracks one logical call.
type AttemptState struct {
	Attempt int
	Delay   time.Duration
	LastErr error
}

// Executor applies a Policy to operations.
type Executor struct {
	policy   Policy
	log      logger.Logger
	sleep    Sleeper
	jitter   JitterFunc
	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	sleep          Sleeper
	jitter         JitterFunc
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithSleeper replaces the context-aware timer used between attempts.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(o *executorOptions) { o.sleep = s }
}

// WithJitterSource replaces the uniform random jitter.
func WithJitterSource(j JitterFunc) ExecutorOption {
	return func(o *executorOptions) { o.jitter = j }
}

// WithTracerProvider sets the provider for per-call spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(o *executorOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the provider for the attempts counter. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) ExecutorOption {
	return func(o *executorOptions) { o.meterProvider = mp }
}

// NewExecutor creates an executor for policy. A nil log discards output.
func NewExecutor(policy Policy, log logger.Logger, opts ...ExecutorOption) *Executor {
	o := executorOptions{
		sleep:  sleepContext,
		jitter: uniformJitter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}

	meter := o.meterProvider.Meter(instrumentationName)
	counter, err := observability.CreateCounter(meter, AttemptsMetric,
		"Attempts made by the retry executor",
		metric.WithUnit("{attempt}"),
	)

	e := &Executor{
		policy:   policy,
		log:      logger.Named(log, "retry"),
		sleep:    o.sleep,
		jitter:   o.jitter,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		attempts: counter,
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to create retry attempts counter")
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// WithPolicy returns an executor sharing e's logger, clock and telemetry but using p.
func (e *Executor) WithPolicy(p Policy) *Executor {
	cp := *e
	cp.policy = p
	return &cp
}

type attemptKey struct{}

// AttemptFromContext returns the 1-based attempt number of the running operation,
// or 0 outside an Executor.
func AttemptFromContext(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// Do runs op until it succeeds, fails with a non-retryable error or the policy's
// attempts are exhausted. A result implementing StatusCoder with a retryable
// status is treated as a *RetryableStatusError. On failure the last error is
// returned; if ctx ends during a wait the context error is returned wrapping it.
func Do[T any](ctx context.Context, e *Executor, name string, op Operation[T]) (T, error) {
	var zero T
	if e == nil {
		return zero, ErrNilExecutor
	}

	p := e.policy
	ctx, span := e.tracer.Start(ctx, "retry "+name, trace.WithAttributes(
		attribute.String("retry.operation", name),
		attribute.Int("retry.max_attempts", p.attempts),
	))
	defer span.End()

	state := AttemptState{Attempt: 1, Delay: p.Delay(1)}
	for {
		result, err := op(context.WithValue(ctx, attemptKey{}, state.Attempt))
		if err == nil {
			code, ok := statusOf(result)
			if !ok || !p.IsRetryableStatus(code) {
				e.succeeded(ctx, span, name, state)
				return result, nil
			}
			err = &RetryableStatusError{StatusCode: code}
		}
		state.LastErr = err

		if !p.IsRetryableError(err) {
			e.record(ctx, name, outcomeFatal)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Int("retry.attempts", state.Attempt))
			return zero, err
		}

		if state.Attempt >= p.attempts {
			e.gaveUp(ctx, span, name, p, state)
			return zero, err
		}

		wait := state.Delay + e.jitterFor(p.jitter)
		e.retrying(ctx, span, name, p, state, wait)

		if serr := e.sleep(ctx, wait); serr != nil {
			span.RecordError(serr)
			span.SetStatus(codes.Error, serr.Error())
			return zero, fmt.Errorf("%w: last error: %w", serr, err)
		}

		state.Attempt++
		state.Delay = p.Delay(state.Attempt)
	}
}

// Wrap returns op decorated with e's retry semantics.
func Wrap[T any](e *Executor, name string, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, e, name, op)
	}
}

func (e *Executor) succeeded(ctx context.Context, span trace.Span, name string, state AttemptState) {
	e.record(ctx, name, outcomeSuccess)
	span.SetAttributes(attribute.Int("retry.attempts", state.Attempt))
	span.SetStatus(codes.Ok, "")
	if state.Attempt > 1 {
		e.log.Info().
			Str("operation", name).
			Int("attempts", state.Attempt).
			Msgf("[SUCCESS after %d attempt(s)] %s", state.Attempt, name)
	}
}

func (e *Executor) retrying(ctx context.Context, span trace.Span, name string, p Policy, state AttemptState, wait time.Duration) {
	e.record(ctx, name, outcomeRetry)
	span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.attempt", state.Attempt),
		attribute.String("retry.error", state.LastErr.Error()),
		attribute.Int64("retry.sleep_ms", wait.Milliseconds()),
	))
	e.log.Warn().
		Str("operation", name).
		Int("attempt", state.Attempt).
		Int("max_attempts", p.attempts).
		Dur("sleep", wait).
		Err(state.LastErr).
		Msgf("[RETRY %d/%d] %s: %v | sleep %.2fs", state.Attempt, p.attempts, name, state.LastErr, wait.Seconds())
}

func (e *Executor) gaveUp(ctx context.Context, span trace.Span, name string, p Policy, state AttemptState) {
	e.record(ctx, name, outcomeGiveUp)
	span.RecordError(state.LastErr)
	span.SetStatus(codes.Error, state.LastErr.Error())
	span.SetAttributes(attribute.Int("retry.attempts", state.Attempt))
	e.log.Error().
		Str("operation", name).
		Int("attempts", state.Attempt).
		Err(state.LastErr).
		Msgf("[GIVE UP] %s after %d attempt(s): %v", name, p.attempts, state.LastErr)
}

func (e *Executor) record(ctx context.Context, name, outcome string) {
	if e.attempts == nil {
		return
	}
	e.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", name),
		attribute.String("outcome", outcome),
	))
}

func (e *Executor) jitterFor(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	j := e.jitter(bound)
	if j < 0 {
		return 0
	}
	if j > bound {
		return bound
	}
	return j
}

func uniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(bound) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
