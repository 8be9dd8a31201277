package retry

import (
	"errors"
	"fmt"
	"reflect"
)

// StatusCoder is implemented by results that carry a status code, such as
// HTTP responses.
type StatusCoder interface {
	Status() int
}

// RetryableStatusError is produced when an operation succeeds with a status
// the policy treats as transient. If attempts run out it is the returned error.
type RetryableStatusError struct {
	StatusCode int
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.StatusCode)
}

// IsRetryableStatus reports whether err is, or wraps, a RetryableStatusError.
func IsRetryableStatus(err error) bool {
	var statusErr *RetryableStatusError
	return errors.As(err, &statusErr)
}

// StatusFromError returns the status code carried by a RetryableStatusError in err.
func StatusFromError(err error) (int, bool) {
	var statusErr *RetryableStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// statusOf extracts a status code from an operation result, if it has one.
func statusOf(result any) (int, bool) {
	sc, ok := result.(StatusCoder)
	if !ok || sc == nil {
		return 0, false
	}
	if v := reflect.ValueOf(sc); v.Kind() == reflect.Pointer && v.IsNil() {
		return 0, false
	}
	return sc.Status(), true
}
