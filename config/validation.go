package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance reports fields by their koanf path rather than Go names.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg and returns a *ConfigError describing the first violation.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "is nil")
	}

	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError("config", err.Error())
	}

	return toConfigError(fieldErrs[0])
}

func toConfigError(fe validator.FieldError) *ConfigError {
	field := fieldPath(fe.Namespace())

	switch fe.Tag() {
	case "required", "required_if":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "url":
		return NewValidationError(field, fmt.Sprintf("must be an absolute URL, got %q", fmt.Sprint(fe.Value())))
	case "gt", "gte", "min":
		return NewValidationError(field, fmt.Sprintf("must be %s %s, got %v", boundWord(fe.Tag()), fe.Param(), fe.Value()))
	case "lte", "max":
		return NewValidationError(field, fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}

func boundWord(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}

// fieldPath drops the root struct name: Config.retry.attempts -> retry.attempts.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// envVarFor suggests the variable a user would set to fix field.
func envVarFor(field string) string {
	for name, key := range envAliases {
		if key == field {
			return name
		}
	}
	// Indexed paths (retry.retry_on_status[0]) map to their list variable.
	if idx := strings.Index(field, "["); idx > 0 {
		return envVarFor(field[:idx])
	}
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "__"))
}
