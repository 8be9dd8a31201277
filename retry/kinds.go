package retry

import (
	"errors"
)

// ErrorKind classifies errors as retryable.
type ErrorKind func(error) bool

// AnyError matches every non-nil error.
func AnyError() ErrorKind {
	return func(err error) bool { return err != nil }
}

// ErrorIs matches errors for which errors.Is(err, target) holds.
func ErrorIs(target error) ErrorKind {
	return func(err error) bool { return errors.Is(err, target) }
}

// ErrorAs matches errors whose chain contains an E.
func ErrorAs[E error]() ErrorKind {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// ErrorMatching wraps an arbitrary predicate.
func ErrorMatching(match func(error) bool) ErrorKind {
	return func(err error) bool { return err != nil && match(err) }
}
