package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured marks an optional feature that is switched on without the
// settings it needs. Callers fall back to a no-op implementation.
var ErrNotConfigured = errors.New("not configured")

// ErrorKind classifies a ConfigError.
type ErrorKind string

const (
	KindMissing       ErrorKind = "missing"
	KindInvalid       ErrorKind = "invalid"
	KindNotConfigured ErrorKind = "not_configured"
)

// ConfigError points at one configuration key and the variable that sets it.
//
//nolint:revive // config.ConfigError reads better than config.Error at call sites
type ConfigError struct {
	Kind    ErrorKind
	Field   string // koanf path, e.g. retry.attempts
	EnvVar  string // override variable for Field, empty when unknown
	Message string
	Allowed []string
}

// Section returns the top-level block of Field: retry, request, reporting, ...
func (e *ConfigError) Section() string {
	section, _, _ := strings.Cut(e.Field, ".")
	return section
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Field != "" {
		b.WriteString(" " + e.Field)
	}
	if e.Kind != "" {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	b.WriteString(": " + e.Message)
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, ", want one of %s", strings.Join(e.Allowed, ", "))
	}
	if e.EnvVar != "" {
		fmt.Fprintf(&b, "; set %s", e.EnvVar)
	}
	return b.String()
}

// Is matches ErrNotConfigured for not-configured errors.
func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured && e.Kind == KindNotConfigured
}

// NewMissingFieldError reports a required key with no value.
func NewMissingFieldError(field string) *ConfigError {
	return &ConfigError{Kind: KindMissing, Field: field, EnvVar: envVarFor(field), Message: "required"}
}

// NewInvalidFieldError reports a value outside the allowed set.
func NewInvalidFieldError(field, message string, allowed []string) *ConfigError {
	return &ConfigError{Kind: KindInvalid, Field: field, Message: message, Allowed: allowed}
}

// NewValidationError reports a value that breaks a bound or format rule.
func NewValidationError(field, message string) *ConfigError {
	return &ConfigError{Kind: KindInvalid, Field: field, Message: message}
}

// NewNotConfiguredError reports an enabled optional feature that lacks field.
func NewNotConfiguredError(feature, field string) *ConfigError {
	return &ConfigError{
		Kind:    KindNotConfigured,
		Field:   field,
		EnvVar:  envVarFor(field),
		Message: feature + " is enabled but " + field + " is empty",
	}
}
