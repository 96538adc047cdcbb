package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// providerKeyEnv maps built-in providers to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	ProviderXAI:        "XAI_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Session.Redis.Password = expandEnvVars(cfg.Session.Redis.Password)
	for name, p := range cfg.Providers {
		p.APIKey = expandEnvVars(p.APIKey)
		cfg.Providers[name] = p
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = def.Gateway.Auth.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = def.Session.Store
	}
	if cfg.Session.Redis.Addr == "" {
		cfg.Session.Redis.Addr = def.Session.Redis.Addr
	}
	if cfg.Session.Redis.Prefix == "" {
		cfg.Session.Redis.Prefix = def.Session.Redis.Prefix
	}
	if cfg.Relay.DefaultModel == "" {
		cfg.Relay.DefaultModel = def.Relay.DefaultModel
	}
	if len(cfg.Relay.Order) == 0 {
		cfg.Relay.Order = def.Relay.Order
	}
	if cfg.Relay.Fallback == "" {
		cfg.Relay.Fallback = def.Relay.Fallback
	}
	if cfg.Relay.ConnectTimeoutSec == 0 {
		cfg.Relay.ConnectTimeoutSec = def.Relay.ConnectTimeoutSec
	}
	if cfg.Relay.FirstByteTimeoutSec == 0 {
		cfg.Relay.FirstByteTimeoutSec = def.Relay.FirstByteTimeoutSec
	}

	// A provider entry in the file replaces the whole map value, so built-in
	// fields the user did not set are merged back in.
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for name, d := range def.Providers {
		p, ok := cfg.Providers[name]
		if !ok {
			cfg.Providers[name] = d
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = d.BaseURL
		}
		if p.DefaultModel == "" {
			p.DefaultModel = d.DefaultModel
		}
		if len(p.Prefixes) == 0 {
			p.Prefixes = d.Prefixes
		}
		if p.Headers == nil {
			p.Headers = d.Headers
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = d.MaxTokens
		}
		cfg.Providers[name] = p
	}
}

// applyEnvOverrides reads ORACLE_* environment variables and overrides config
// values. Provider keys from XAI_API_KEY and OPENROUTER_API_KEY only fill
// providers that have no key configured.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORACLE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("ORACLE_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("ORACLE_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("ORACLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ORACLE_SESSION_STORE"); v != "" {
		cfg.Session.Store = strings.ToLower(v)
	}
	if v := os.Getenv("ORACLE_REDIS_ADDR"); v != "" {
		cfg.Session.Redis.Addr = v
	}
	for name, env := range providerKeyEnv {
		p, ok := cfg.Providers[name]
		if !ok || (p.APIKey != "" && !envVarPattern.MatchString(p.APIKey)) {
			continue
		}
		if v := os.Getenv(env); v != "" {
			p.APIKey = v
			cfg.Providers[name] = p
		}
	}
}
