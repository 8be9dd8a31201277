package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the overall harness configuration.
// The embedded koanf.Koanf instance allows access to custom keys
// not explicitly modelled in the struct.
type Config struct {
	App           AppConfig           `koanf:"app" json:"app" yaml:"app"`
	BaseURL       string              `koanf:"base_url" json:"base_url" yaml:"base_url" validate:"required,url"`
	Request       RequestConfig       `koanf:"request" json:"request" yaml:"request"`
	Retry         RetryConfig         `koanf:"retry" json:"retry" yaml:"retry"`
	Reporting     ReportingConfig     `koanf:"reporting" json:"reporting" yaml:"reporting"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k      *koanf.Koanf `json:"-" yaml:"-"`
	loaded []string
}

// AppConfig holds general settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version"`
	Env     string `koanf:"env" json:"env" yaml:"env" validate:"oneof=development ci staging production"`
}

// RequestConfig holds per-request defaults applied by the HTTP client.
type RequestConfig struct {
	// Timeout bounds a single physical send. Plain numbers are read as seconds.
	Timeout        time.Duration     `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	VerifySSL      bool              `koanf:"verify_ssl" json:"verify_ssl" yaml:"verify_ssl"`
	DefaultHeaders map[string]string `koanf:"default_headers" json:"default_headers" yaml:"default_headers"`
	// RateLimit caps outgoing requests per second; 0 disables pacing.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `koanf:"burst" json:"burst" yaml:"burst" validate:"gte=0"`
}

// RetryConfig is the configured default retry policy.
type RetryConfig struct {
	Attempts          int     `koanf:"attempts" json:"attempts" yaml:"attempts" validate:"min=1"`
	DelayMS           int     `koanf:"delay_ms" json:"delay_ms" yaml:"delay_ms" validate:"min=0"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier" json:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gt=0"`
	RetryOnStatus     []int   `koanf:"retry_on_status" json:"retry_on_status" yaml:"retry_on_status" validate:"dive,min=100,max=599"`
	JitterMS          int     `koanf:"jitter_ms" json:"jitter_ms" yaml:"jitter_ms" validate:"min=0"`
}

// Delay returns the initial delay as a duration.
func (r RetryConfig) Delay() time.Duration { return time.Duration(r.DelayMS) * time.Millisecond }

// Jitter returns the jitter bound as a duration.
func (r RetryConfig) Jitter() time.Duration { return time.Duration(r.JitterMS) * time.Millisecond }

// ReportingConfig controls evidence recording.
type ReportingConfig struct {
	Enabled   bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	AllureDir string `koanf:"allure_dir" json:"allure_dir" yaml:"allure_dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Enabled     bool              `koanf:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string            `koanf:"service_name" json:"service_name" yaml:"service_name"`
	Endpoint    string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol    string            `koanf:"protocol" json:"protocol" yaml:"protocol" validate:"oneof=http grpc"`
	Insecure    bool              `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Headers     map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	SampleRate  float64           `koanf:"sample_rate" json:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
	// MetricsInterval is the periodic export interval for metrics.
	MetricsInterval time.Duration `koanf:"metrics_interval" json:"metrics_interval" yaml:"metrics_interval" validate:"gt=0"`
}

// Environment constants
const (
	EnvDevelopment = "development"
	EnvCI          = "ci"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Observability endpoint and protocol constants
const (
	EndpointStdout = "stdout"
	ProtocolHTTP   = "http"
	ProtocolGRPC   = "grpc"
)
