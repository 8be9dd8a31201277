// Package httpbin holds helpers for tests that run against httpbin-compatible
// services, where gateway errors mean the service is down rather than that the
// code under test is wrong.
package httpbin

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gaborage/apiprobe/retry"
)

// TB is the part of testing.TB the guards need. GinkgoT() satisfies it too.
type TB interface {
	Helper()
	Skipf(format string, args ...any)
	Fatal(args ...any)
}

// ServiceUnavailableCodes are the statuses treated as temporary unavailability.
var ServiceUnavailableCodes = []int{502, 503, 504}

// ErrServiceUnavailable reports a transient gateway status from the service.
var ErrServiceUnavailable = errors.New("service temporarily unavailable")

// StatusMismatchError reports an unexpected, non-transient status.
type StatusMismatchError struct {
	Expected int
	Actual   int
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("expected status %d, but got %d", e.Expected, e.Actual)
}

// Unavailable reports whether status is one of ServiceUnavailableCodes.
func Unavailable(status int) bool {
	return slices.Contains(ServiceUnavailableCodes, status)
}

// CheckStatus compares the status of resp with expected. Transient statuses
// yield an error wrapping ErrServiceUnavailable, other mismatches a
// *StatusMismatchError.
func CheckStatus(resp retry.StatusCoder, expected int) error {
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	if Unavailable(status) {
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, status)
	}
	if status != expected {
		return &StatusMismatchError{Expected: expected, Actual: status}
	}
	return nil
}

// RequireStatus skips t when the service answered with a transient status and
// fails it on any other mismatch.
func RequireStatus(t TB, resp retry.StatusCoder, expected int) {
	t.Helper()
	err := CheckStatus(resp, expected)
	switch {
	case err == nil:
	case errors.Is(err, ErrServiceUnavailable):
		t.Skipf("httpbin returned a transient error (%v); skipping to avoid a false negative", err)
	default:
		t.Fatal(err)
	}
}

// ExhaustedOnUnavailable reports whether err is a retry exhaustion caused by a
// transient status, so callers can skip instead of fail.
func ExhaustedOnUnavailable(err error) bool {
	code, ok := retry.StatusFromError(err)
	return ok && Unavailable(code)
}

// SkipIfUnavailable skips t when err is ExhaustedOnUnavailable.
func SkipIfUnavailable(t TB, err error) {
	t.Helper()
	if ExhaustedOnUnavailable(err) {
		t.Skipf("httpbin stayed unavailable after retries: %v", err)
	}
}
