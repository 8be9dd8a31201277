package retry

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/gaborage/apiprobe/config"
)

const (
	// DefaultAttempts is the number of attempts of DefaultPolicy.
	DefaultAttempts = 3
	// DefaultInitialDelay is the wait before the second attempt of DefaultPolicy.
	DefaultInitialDelay = 300 * time.Millisecond
	// DefaultBackoffMultiplier grows the delay after every failed attempt.
	DefaultBackoffMultiplier = 2.0
	// DefaultJitter is the upper bound of the random extra wait.
	DefaultJitter = 100 * time.Millisecond
)

// DefaultStatuses are the gateway errors retried by DefaultPolicy.
var DefaultStatuses = []int{502, 503, 504}

// ErrInvalidPolicy is returned when a policy option violates its bounds.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy describes how an operation is retried. The zero value is not usable;
// build one with NewPolicy, DefaultPolicy or FromConfig. A Policy is immutable:
// With returns a modified copy.
type Policy struct {
	attempts     int
	initialDelay time.Duration
	multiplier   float64
	statuses     map[int]struct{}
	kinds        []ErrorKind
	jitter       time.Duration
}

// Option configures a Policy.
type Option func(*Policy) error

// WithAttempts sets the total number of attempts, first one included.
func WithAttempts(n int) Option {
	return func(p *Policy) error {
		if n < 1 {
			return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidPolicy, n)
		}
		p.attempts = n
		return nil
	}
}

// WithInitialDelay sets the wait before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) error {
		if d < 0 {
			return fmt.Errorf("%w: initial delay must not be negative, got %s", ErrInvalidPolicy, d)
		}
		p.initialDelay = d
		return nil
	}
}

// WithBackoffMultiplier sets the factor applied to the delay after each retry.
func WithBackoffMultiplier(m float64) Option {
	return func(p *Policy) error {
		if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: backoff multiplier must be positive, got %v", ErrInvalidPolicy, m)
		}
		p.multiplier = m
		return nil
	}
}

// WithJitter sets the upper bound of the uniform random wait added to every delay.
func WithJitter(d time.Duration) Option {
	return func(p *Policy) error {
		if d < 0 {
			return fmt.Errorf("%w: jitter must not be negative, got %s", ErrInvalidPolicy, d)
		}
		p.jitter = d
		return nil
	}
}

// WithStatuses replaces the set of retryable status codes. No arguments
// disables status based retries.
func WithStatuses(codes ...int) Option {
	return func(p *Policy) error {
		set := make(map[int]struct{}, len(codes))
		for _, c := range codes {
			if c < 100 || c > 599 {
				return fmt.Errorf("%w: status %d out of range", ErrInvalidPolicy, c)
			}
			set[c] = struct{}{}
		}
		p.statuses = set
		return nil
	}
}

// OnStatus adds codes to the set of retryable status codes.
func OnStatus(codes ...int) Option {
	return func(p *Policy) error {
		merged := p.RetryableStatuses()
		return WithStatuses(append(merged, codes...)...)(p)
	}
}

// WithRetryOn replaces the retryable error kinds. No arguments means any
// error is retried.
func WithRetryOn(kinds ...ErrorKind) Option {
	return func(p *Policy) error {
		for _, k := range kinds {
			if k == nil {
				return fmt.Errorf("%w: nil error kind", ErrInvalidPolicy)
			}
		}
		p.kinds = slices.Clone(kinds)
		return nil
	}
}

// NewPolicy builds a policy from DefaultPolicy and opts.
func NewPolicy(opts ...Option) (Policy, error) {
	return DefaultPolicy().With(opts...)
}

// DefaultPolicy returns three attempts, 300ms initial delay doubling each
// time, 100ms jitter, gateway statuses and any error retryable.
func DefaultPolicy() Policy {
	p := Policy{
		attempts:     DefaultAttempts,
		initialDelay: DefaultInitialDelay,
		multiplier:   DefaultBackoffMultiplier,
		jitter:       DefaultJitter,
		statuses:     make(map[int]struct{}, len(DefaultStatuses)),
	}
	for _, c := range DefaultStatuses {
		p.statuses[c] = struct{}{}
	}
	return p
}

// FromConfig builds the process-wide default policy from loaded configuration.
func FromConfig(cfg config.RetryConfig) (Policy, error) {
	p, err := NewPolicy(
		WithAttempts(cfg.Attempts),
		WithInitialDelay(cfg.Delay()),
		WithBackoffMultiplier(cfg.BackoffMultiplier),
		WithJitter(cfg.Jitter()),
		WithStatuses(cfg.RetryOnStatus...),
	)
	if err != nil {
		return Policy{}, fmt.Errorf("retry config: %w", err)
	}
	return p, nil
}

// With returns a copy of p with opts applied. p itself is never modified.
func (p Policy) With(opts ...Option) (Policy, error) {
	cp := p.clone()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cp); err != nil {
			return Policy{}, err
		}
	}
	return cp, nil
}

func (p Policy) clone() Policy {
	cp := p
	cp.statuses = make(map[int]struct{}, len(p.statuses))
	for c := range p.statuses {
		cp.statuses[c] = struct{}{}
	}
	cp.kinds = slices.Clone(p.kinds)
	return cp
}

// Attempts returns the total number of attempts.
func (p Policy) Attempts() int { return p.attempts }

// InitialDelay returns the wait before the second attempt.
func (p Policy) InitialDelay() time.Duration { return p.initialDelay }

// BackoffMultiplier returns the delay growth factor.
func (p Policy) BackoffMultiplier() float64 { return p.multiplier }

// Jitter returns the upper bound of the random extra wait.
func (p Policy) Jitter() time.Duration { return p.jitter }

// RetryableStatuses returns the retryable status codes in ascending order.
func (p Policy) RetryableStatuses() []int {
	out := make([]int, 0, len(p.statuses))
	for c := range p.statuses {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// HasErrorKinds reports whether the policy restricts which errors are retried.
func (p Policy) HasErrorKinds() bool { return len(p.kinds) > 0 }

// IsRetryableStatus reports whether code is in the retryable set.
func (p Policy) IsRetryableStatus(code int) bool {
	_, ok := p.statuses[code]
	return ok
}

// IsRetryableError reports whether err should trigger another attempt.
// Synthetic status errors are always retryable.
func (p Policy) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryableStatus(err) {
		return true
	}
	if len(p.kinds) == 0 {
		return true
	}
	for _, k := range p.kinds {
		if k(err) {
			return true
		}
	}
	return false
}

// Delay returns the pre-jitter wait after the given failed attempt (1-based):
// initial * multiplier^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if d >= math.MaxInt64 || math.IsInf(d, 0) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// String renders the policy for logs.
func (p Policy) String() string {
	return fmt.Sprintf("attempts=%d delay=%s backoff=%g jitter=%s statuses=%v",
		p.attempts, p.initialDelay, p.multiplier, p.jitter, p.RetryableStatuses())
}
