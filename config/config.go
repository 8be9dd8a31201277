package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultConfigFile is read from the working directory when present.
	DefaultConfigFile = "config.yaml"
	// DefaultDotEnvFile is read from the working directory when present.
	DefaultDotEnvFile = ".env"
	// ConfigFileEnv overrides the location of the main YAML file.
	ConfigFileEnv = "APIPROBE_CONFIG"
)

type loadOptions struct {
	files   []string
	dotenv  string
	environ func() []string
}

// LoadOption customizes where Load reads its sources from.
type LoadOption func(*loadOptions)

// WithFiles replaces the YAML files that are read (in order, later files win).
func WithFiles(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.files = append([]string(nil), paths...)
	}
}

// WithDotEnv sets the .env file path. An empty path disables .env loading.
func WithDotEnv(path string) LoadOption {
	return func(o *loadOptions) {
		o.dotenv = path
	}
}

// WithEnviron replaces os.Environ as the source of environment variables.
func WithEnviron(environ func() []string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. .env file
// 3. YAML configuration files (config.yaml, then config.<app.env>.yaml)
// 4. Default values (lowest priority)
func Load() (*Config, error) {
	return LoadWithOptions()
}

// LoadWithOptions is Load with explicit sources. Loading is deterministic:
// identical inputs always produce equal Config values.
func LoadWithOptions(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{
		dotenv:  DefaultDotEnvFile,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.files == nil {
		o.files = []string{configFileFromEnviron(o.environ())}
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	var loaded []string
	for _, path := range o.files {
		ok, err := loadOptionalYAML(k, path)
		if err != nil {
			return nil, err
		}
		if ok {
			loaded = append(loaded, path)
		}
	}

	// Environment-specific YAML is resolved after env overrides are known,
	// so APP_ENV=ci picks up config.ci.yaml.
	envVars, err := collectEnvironment(o)
	if err != nil {
		return nil, err
	}
	if env := resolveAppEnv(k, envVars); env != "" && len(o.files) > 0 {
		path := envSpecificFile(o.files[0], env)
		ok, err := loadOptionalYAML(k, path)
		if err != nil {
			return nil, err
		}
		if ok {
			loaded = append(loaded, path)
		}
	}

	if err := k.Load(confmap.Provider(envVars, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := unmarshal(k, "", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.k = k
	cfg.loaded = loaded

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "apiprobe",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"base_url":           "https://httpbin.org",
		"request.timeout":    "10s",
		"request.verify_ssl": true,
		"request.default_headers": map[string]any{
			"Accept":     "application/json",
			"User-Agent": "apiprobe/1.0",
		},
		"request.rate_limit": 0,
		"request.burst":      1,

		"retry.attempts":           3,
		"retry.delay_ms":           300,
		"retry.backoff_multiplier": 2.0,
		"retry.retry_on_status":    []int{502, 503, 504},
		"retry.jitter_ms":          100,

		"reporting.enabled":    false,
		"reporting.allure_dir": "allure-results",

		"log.level":  "info",
		"log.pretty": false,

		"observability.enabled":          false,
		"observability.service_name":     "apiprobe",
		"observability.endpoint":         EndpointStdout,
		"observability.protocol":         ProtocolHTTP,
		"observability.insecure":         false,
		"observability.sample_rate":      1.0,
		"observability.metrics_interval": "15s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

// loadOptionalYAML merges a YAML file into k and reports whether it existed.
// A missing file is not an error.
func loadOptionalYAML(k *koanf.Koanf, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return false, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return true, nil
}

// LoadedFiles lists the YAML files that contributed to c, in load order.
func (c *Config) LoadedFiles() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.loaded...)
}

// collectEnvironment merges .env values under process environment values,
// both already mapped to config keys.
func collectEnvironment(o *loadOptions) (map[string]any, error) {
	values := make(map[string]any)

	if o.dotenv != "" {
		raw, err := os.ReadFile(o.dotenv)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read %s: %w", o.dotenv, err)
		default:
			parsed, err := dotenv.Parser().Unmarshal(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", o.dotenv, err)
			}
			for name, v := range parsed {
				if key, val := transformEnv(name, fmt.Sprint(v)); key != "" {
					values[key] = val
				}
			}
		}
	}

	ek := koanf.New(".")
	if err := ek.Load(envprovider.Provider(".", envprovider.Opt{
		TransformFunc: transformEnv,
		EnvironFunc:   o.environ,
	}), nil); err != nil {
		return nil, err
	}
	for key, val := range ek.All() {
		values[key] = val
	}

	return values, nil
}

func resolveAppEnv(k *koanf.Koanf, envVars map[string]any) string {
	if v, ok := envVars["app.env"]; ok {
		return fmt.Sprint(v)
	}
	return k.String("app.env")
}

// envSpecificFile turns config.yaml into config.<env>.yaml next to it.
func envSpecificFile(base, env string) string {
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx] + "." + env + base[idx:]
	}
	return base + "." + env
}

func configFileFromEnviron(environ []string) string {
	for _, kv := range environ {
		if name, value, ok := strings.Cut(kv, "="); ok && name == ConfigFileEnv && value != "" {
			return value
		}
	}
	return DefaultConfigFile
}
