package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gaborage/apiprobe/testing/mocks"
)

var errTransient = errors.New("transient")

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type statusResult struct{ code int }

func (r *statusResult) Status() int { return r.code }

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, *fakeClock, *mocks.Logger) {
	t.Helper()
	base := []Option{WithInitialDelay(100 * time.Millisecond), WithBackoffMultiplier(2), WithJitter(0)}
	p, err := NewPolicy(append(base, opts...)...)
	require.NoError(t, err)

	clock := &fakeClock{}
	log := mocks.NewLogger()
	return NewExecutor(p, log, WithSleeper(clock.sleep)), clock, log
}

func TestDoAlwaysFailingExhaustsAttempts(t *testing.T) {
	exec, clock, log := newTestExecutor(t, WithAttempts(4))

	calls := 0
	_, err := Do(context.Background(), exec, "flaky", func(context.Context) (int, error) {
		calls++
		return 0, errors.Join(errTransient, errors.New("call "+string(rune('0'+calls))))
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "call 4")
	assert.Len(t, clock.recorded(), 3)
	assert.Len(t, log.EntriesAt("warn"), 3)
	require.Len(t, log.EntriesAt("error"), 1)
	assert.Contains(t, log.EntriesAt("error")[0].Message, "[GIVE UP] flaky after 4 attempt(s)")
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	exec, clock, log := newTestExecutor(t, WithAttempts(3))

	calls := 0
	got, err := Do(context.Background(), exec, "eventually", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.recorded())
	assert.True(t, log.Contains("info", "[SUCCESS after 3 attempt(s)] eventually"))
	assert.Empty(t, log.EntriesAt("error"))
}

func TestDoFirstTrySuccessLogsNothing(t *testing.T) {
	exec, clock, log := newTestExecutor(t)

	got, err := Do(context.Background(), exec, "quick", func(context.Context) (int, error) { return 7, nil })

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Empty(t, clock.recorded())
	assert.Empty(t, log.Entries())
}

func TestDoNonRetryableErrorFailsImmediately(t *testing.T) {
	errFatal := errors.New("bad request")
	exec, clock, log := newTestExecutor(t, WithAttempts(5), WithRetryOn(ErrorIs(errTransient)))

	calls := 0
	_, err := Do(context.Background(), exec, "strict", func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.recorded())
	assert.Empty(t, log.Entries())
}

func TestDoRetryableStatusExhausts(t *testing.T) {
	exec, _, log := newTestExecutor(t, WithAttempts(3), WithStatuses(502, 503, 504))

	calls := 0
	res, err := Do(context.Background(), exec, "GET /status/503", func(context.Context) (*statusResult, error) {
		calls++
		return &statusResult{code: 503}, nil
	})

	assert.Nil(t, res)
	assert.Equal(t, 3, calls)
	var statusErr *RetryableStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)
	assert.True(t, log.Contains("warn", "[RETRY 1/3] GET /status/503: retryable status 503 | sleep 0.10s"))
}

func TestDoStatusRetriesIgnoreErrorKinds(t *testing.T) {
	exec, _, _ := newTestExecutor(t, WithAttempts(2), WithRetryOn(ErrorIs(errTransient)))

	calls := 0
	res, err := Do(context.Background(), exec, "status", func(context.Context) (*statusResult, error) {
		calls++
		if calls == 1 {
			return &statusResult{code: 502}, nil
		}
		return &statusResult{code: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, res.Status())
	assert.Equal(t, 2, calls)
}

func TestDoNonRetryableStatusReturnsResult(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	calls := 0
	res, err := Do(context.Background(), exec, "404", func(context.Context) (*statusResult, error) {
		calls++
		return &statusResult{code: 404}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 404, res.Status())
	assert.Equal(t, 1, calls)
}

func TestDoNilStatusCoderIsNotRetried(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	calls := 0
	res, err := Do(context.Background(), exec, "nil", func(context.Context) (*statusResult, error) {
		calls++
		return nil, nil
	})

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, calls)
}

func TestDoSingleAttempt(t *testing.T) {
	exec, clock, _ := newTestExecutor(t, WithAttempts(1))

	calls := 0
	_, err := Do(context.Background(), exec, "once", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.recorded())
}

func TestDoJitterStaysWithinBounds(t *testing.T) {
	p, err := NewPolicy(WithAttempts(4), WithInitialDelay(50*time.Millisecond), WithBackoffMultiplier(2), WithJitter(30*time.Millisecond))
	require.NoError(t, err)

	clock := &fakeClock{}
	exec := NewExecutor(p, nil, WithSleeper(clock.sleep))

	_, _ = Do(context.Background(), exec, "jitter", func(context.Context) (int, error) { return 0, errTransient })

	sleeps := clock.recorded()
	require.Len(t, sleeps, 3)
	for i, slept := range sleeps {
		base := p.Delay(i + 1)
		assert.GreaterOrEqual(t, slept, base)
		assert.LessOrEqual(t, slept, base+p.Jitter())
	}
}

func TestDoInjectedJitterIsClamped(t *testing.T) {
	p, err := NewPolicy(WithAttempts(2), WithInitialDelay(10*time.Millisecond), WithJitter(5*time.Millisecond))
	require.NoError(t, err)

	clock := &fakeClock{}
	exec := NewExecutor(p, nil, WithSleeper(clock.sleep), WithJitterSource(func(time.Duration) time.Duration {
		return time.Hour
	}))

	_, _ = Do(context.Background(), exec, "clamped", func(context.Context) (int, error) { return 0, errTransient })
	assert.Equal(t, []time.Duration{15 * time.Millisecond}, clock.recorded())
}

func TestDoContextCancelledDuringWait(t *testing.T) {
	p, err := NewPolicy(WithAttempts(5), WithInitialDelay(time.Hour), WithJitter(0))
	require.NoError(t, err)
	exec := NewExecutor(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = Do(ctx, exec, "cancel", func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDoExposesAttemptNumber(t *testing.T) {
	exec, _, _ := newTestExecutor(t, WithAttempts(3))

	var seen []int
	_, err := Do(context.Background(), exec, "attempts", func(ctx context.Context) (int, error) {
		seen = append(seen, AttemptFromContext(ctx))
		if len(seen) < 3 {
			return 0, errTransient
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 0, AttemptFromContext(context.Background()))
}

func TestDoNilExecutor(t *testing.T) {
	_, err := Do(context.Background(), nil, "nil", func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrNilExecutor)
}

func TestWrap(t *testing.T) {
	exec, _, _ := newTestExecutor(t, WithAttempts(2))

	calls := 0
	op := Wrap(exec, "wrapped", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errTransient
		}
		return 42, nil
	})

	got, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestWithPolicyKeepsOriginal(t *testing.T) {
	exec, _, _ := newTestExecutor(t, WithAttempts(3))
	single, err := exec.Policy().With(WithAttempts(1))
	require.NoError(t, err)

	derived := exec.WithPolicy(single)
	assert.Equal(t, 1, derived.Policy().Attempts())
	assert.Equal(t, 3, exec.Policy().Attempts())
}

func TestDoRecordsTelemetry(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p, err := NewPolicy(WithAttempts(3), WithInitialDelay(0), WithJitter(0))
	require.NoError(t, err)
	clock := &fakeClock{}
	exec := NewExecutor(p, nil, WithSleeper(clock.sleep), WithTracerProvider(tp), WithMeterProvider(mp))

	calls := 0
	_, err = Do(context.Background(), exec, "telemetry", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 1, nil
	})
	require.NoError(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "retry telemetry", ended[0].Name())
	assert.Len(t, ended[0].Events(), 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != AttemptsMetric {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}
