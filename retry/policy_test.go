package retry

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/apiprobe/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, 300*time.Millisecond, p.InitialDelay())
	assert.InDelta(t, 2.0, p.BackoffMultiplier(), 1e-9)
	assert.Equal(t, 100*time.Millisecond, p.Jitter())
	assert.Equal(t, []int{502, 503, 504}, p.RetryableStatuses())
	assert.False(t, p.HasErrorKinds())
}

func TestNewPolicyValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{name: "zero attempts", opt: WithAttempts(0)},
		{name: "negative delay", opt: WithInitialDelay(-time.Second)},
		{name: "zero multiplier", opt: WithBackoffMultiplier(0)},
		{name: "negative jitter", opt: WithJitter(-1)},
		{name: "status out of range", opt: WithStatuses(503, 99)},
		{name: "nil kind", opt: WithRetryOn(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.opt)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestPolicyWithDoesNotMutateReceiver(t *testing.T) {
	base := DefaultPolicy()

	derived, err := base.With(WithAttempts(5), OnStatus(429), WithRetryOn(ErrorIs(io.EOF)))
	require.NoError(t, err)

	assert.Equal(t, 5, derived.Attempts())
	assert.Equal(t, []int{429, 502, 503, 504}, derived.RetryableStatuses())
	assert.True(t, derived.HasErrorKinds())

	assert.Equal(t, 3, base.Attempts())
	assert.Equal(t, []int{502, 503, 504}, base.RetryableStatuses())
	assert.False(t, base.HasErrorKinds())
}

func TestWithStatusesEmptyDisablesStatusRetries(t *testing.T) {
	p, err := NewPolicy(WithStatuses())
	require.NoError(t, err)
	assert.Empty(t, p.RetryableStatuses())
	assert.False(t, p.IsRetryableStatus(503))
}

func TestPolicyDelay(t *testing.T) {
	p, err := NewPolicy(WithInitialDelay(100*time.Millisecond), WithBackoffMultiplier(3))
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 300*time.Millisecond, p.Delay(2))
	assert.Equal(t, 900*time.Millisecond, p.Delay(3))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
}

func TestPolicyDelaySaturates(t *testing.T) {
	p, err := NewPolicy(WithInitialDelay(time.Hour), WithBackoffMultiplier(1000))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(1<<63-1), p.Delay(50))
}

func TestIsRetryableError(t *testing.T) {
	errTimeout := errors.New("timeout")

	anyPolicy := DefaultPolicy()
	assert.True(t, anyPolicy.IsRetryableError(errors.New("whatever")))
	assert.False(t, anyPolicy.IsRetryableError(nil))

	narrow, err := NewPolicy(WithRetryOn(ErrorIs(errTimeout)))
	require.NoError(t, err)
	assert.True(t, narrow.IsRetryableError(fmt.Errorf("send: %w", errTimeout)))
	assert.False(t, narrow.IsRetryableError(errors.New("bad request")))
	// Synthetic status errors bypass the kinds filter.
	assert.True(t, narrow.IsRetryableError(&RetryableStatusError{StatusCode: 503}))
}

func TestFromConfig(t *testing.T) {
	cfg := config.RetryConfig{
		Attempts:          4,
		DelayMS:           250,
		BackoffMultiplier: 1.5,
		RetryOnStatus:     []int{503, 429},
		JitterMS:          20,
	}

	p, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Attempts())
	assert.Equal(t, 250*time.Millisecond, p.InitialDelay())
	assert.InDelta(t, 1.5, p.BackoffMultiplier(), 1e-9)
	assert.Equal(t, []int{429, 503}, p.RetryableStatuses())
	assert.Equal(t, 20*time.Millisecond, p.Jitter())
	assert.False(t, p.HasErrorKinds())

	again, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	cfg.Attempts = 0
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestErrorKinds(t *testing.T) {
	status := &RetryableStatusError{StatusCode: 502}
	wrapped := fmt.Errorf("call: %w", status)

	assert.True(t, AnyError()(io.EOF))
	assert.False(t, AnyError()(nil))
	assert.True(t, ErrorIs(io.EOF)(fmt.Errorf("read: %w", io.EOF)))
	assert.True(t, ErrorAs[*RetryableStatusError]()(wrapped))
	assert.False(t, ErrorAs[*RetryableStatusError]()(io.EOF))
	assert.True(t, ErrorMatching(func(err error) bool { return err.Error() == "EOF" })(io.EOF))
	assert.False(t, ErrorMatching(func(error) bool { return true })(nil))
}

func TestStatusFromError(t *testing.T) {
	err := fmt.Errorf("GET /status/503: %w", &RetryableStatusError{StatusCode: 503})

	code, ok := StatusFromError(err)
	assert.True(t, ok)
	assert.Equal(t, 503, code)
	assert.True(t, IsRetryableStatus(err))
	assert.Equal(t, "GET /status/503: retryable status 503", err.Error())

	_, ok = StatusFromError(io.EOF)
	assert.False(t, ok)
}
