package config

import (
	"strings"
)

// EnvPrefix namespaces generic overrides: APIPROBE_RETRY__ATTEMPTS=5 sets retry.attempts.
const EnvPrefix = "APIPROBE_"

// envAliases maps the short variable names used by CI pipelines to config keys.
var envAliases = map[string]string{
	"APP_ENV":                  "app.env",
	"BASE_URL":                 "base_url",
	"TIMEOUT":                  "request.timeout",
	"VERIFY_SSL":               "request.verify_ssl",
	"RATE_LIMIT":               "request.rate_limit",
	"ALLURE_DIR":               "reporting.allure_dir",
	"REPORTING_ENABLED":        "reporting.enabled",
	"RETRY_ATTEMPTS":           "retry.attempts",
	"RETRY_DELAY_MS":           "retry.delay_ms",
	"RETRY_BACKOFF_MULTIPLIER": "retry.backoff_multiplier",
	"RETRY_ON_STATUS":          "retry.retry_on_status",
	"RETRY_JITTER_MS":          "retry.jitter_ms",
	"LOG_LEVEL":                "log.level",
	"LOG_PRETTY":               "log.pretty",
	"OTEL_ENABLED":             "observability.enabled",
	"OTEL_ENDPOINT":            "observability.endpoint",
	"OTEL_PROTOCOL":            "observability.protocol",
}

// transformEnv maps an environment variable to a config key and value.
// Unknown variables return an empty key and are ignored.
func transformEnv(name, value string) (string, any) {
	key, ok := envAliases[name]
	if !ok {
		rest, found := strings.CutPrefix(name, EnvPrefix)
		if !found || rest == "" || name == ConfigFileEnv {
			return "", nil
		}
		key = strings.ToLower(strings.ReplaceAll(rest, "__", "."))
	}

	switch key {
	case "request.verify_ssl", "reporting.enabled", "log.pretty", "observability.enabled":
		return key, strings.EqualFold(strings.TrimSpace(value), "true")
	case "retry.retry_on_status":
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
