package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}

	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}

	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	// Provider validation
	for _, name := range sortedKeys(cfg.Providers) {
		p := cfg.Providers[name]
		if p.BaseURL == "" {
			issues = append(issues, ValidationIssue{
				Path:    "providers." + name + ".baseUrl",
				Message: "base URL is required",
			})
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "providers." + name + ".baseUrl",
				Message: fmt.Sprintf("not an absolute URL: %q", p.BaseURL),
			})
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			issues = append(issues, ValidationIssue{
				Path:    "providers." + name + ".temperature",
				Message: fmt.Sprintf("must be between 0 and 2, got %g", *p.Temperature),
			})
		}
		if p.MaxTokens < 0 {
			issues = append(issues, ValidationIssue{
				Path:    "providers." + name + ".maxTokens",
				Message: "must not be negative",
			})
		}
	}

	// Relay validation
	for i, name := range cfg.Relay.Order {
		if _, ok := cfg.Providers[name]; !ok {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("relay.order[%d]", i),
				Message: fmt.Sprintf("unknown provider %q", name),
			})
		}
	}
	if cfg.Relay.Fallback != "" {
		if _, ok := cfg.Providers[cfg.Relay.Fallback]; !ok {
			issues = append(issues, ValidationIssue{
				Path:    "relay.fallback",
				Message: fmt.Sprintf("unknown provider %q", cfg.Relay.Fallback),
			})
		}
	}
	if cfg.Relay.ConnectTimeoutSec < 0 || cfg.Relay.FirstByteTimeoutSec < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "relay",
			Message: "timeouts must not be negative",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Session validation
	validStores := []string{"sqlite", "bolt", "redis", "memory"}
	if cfg.Session.Store != "" && !slices.Contains(validStores, cfg.Session.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "session.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Session.Store),
		})
	}
	if cfg.Session.Store == "redis" && cfg.Session.Redis.Addr == "" {
		issues = append(issues, ValidationIssue{
			Path:    "session.redis.addr",
			Message: "required when store is redis",
		})
	}

	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
