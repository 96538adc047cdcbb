package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, DefaultModel, cfg.Relay.DefaultModel)
	assert.Equal(t, []string{ProviderXAI, ProviderOpenRouter}, cfg.Relay.Order)
	assert.Equal(t, ProviderOpenRouter, cfg.Relay.Fallback)

	require.Contains(t, cfg.Providers, ProviderXAI)
	require.Contains(t, cfg.Providers, ProviderOpenRouter)
	assert.Equal(t, "https://api.x.ai/v1", cfg.Providers[ProviderXAI].BaseURL)
	assert.Equal(t, DefaultOpenRouterModel, cfg.Providers[ProviderOpenRouter].DefaultModel)
	assert.Equal(t, "https://v0.dev", cfg.Providers[ProviderOpenRouter].Headers["HTTP-Referer"])
}

func TestLoadMissingFile(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
session:
  store: bolt
providers:
  xai:
    apiKey: xai-file-key
relay:
  defaultModel: grok-3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "bolt", cfg.Session.Store)
	assert.Equal(t, "grok-3", cfg.Relay.DefaultModel)

	// A partial provider entry keeps the built-in fields.
	xai := cfg.Providers[ProviderXAI]
	assert.Equal(t, "xai-file-key", xai.APIKey)
	assert.Equal(t, "https://api.x.ai/v1", xai.BaseURL)
	assert.Equal(t, []string{"xai/", "grok"}, xai.Prefixes)
	assert.Contains(t, cfg.Providers, ProviderOpenRouter)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ORACLE_GATEWAY_PORT", "12345")
	t.Setenv("ORACLE_LOG_LEVEL", "TRACE")
	t.Setenv("ORACLE_SESSION_STORE", "Redis")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Session.Store)
}

func TestLoadProviderKeysFromEnv(t *testing.T) {
	t.Setenv("XAI_API_KEY", "env-xai")
	t.Setenv("OPENROUTER_API_KEY", "env-or")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  openrouter:\n    apiKey: file-or\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-xai", cfg.Providers[ProviderXAI].APIKey)
	assert.Equal(t, "file-or", cfg.Providers[ProviderOpenRouter].APIKey, "configured key wins over env")
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("MY_TOKEN", "tok-123")
	t.Setenv("MY_XAI", "xai-ref")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "gateway:\n  auth:\n    token: ${MY_TOKEN}\nproviders:\n  xai:\n    apiKey: ${MY_XAI}\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Gateway.Auth.Token)
	assert.Equal(t, "xai-ref", cfg.Providers[ProviderXAI].APIKey)
}

func TestExpandEnvVars_Unset(t *testing.T) {
	assert.Equal(t, "${ORACLE_SURELY_UNSET_VAR}", expandEnvVars("${ORACLE_SURELY_UNSET_VAR}"))
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"providers.xai.apiKey", []string{"providers", "xai", "apiKey"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{"__proto__.x", nil, true},
		{"x.constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 18790,
		},
	}

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 18790, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"providers", "xai", "apiKey"}, "k")
	val, ok = GetValueAtPath(root, []string{"providers", "xai", "apiKey"})
	assert.True(t, ok)
	assert.Equal(t, "k", val)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 18790,
			"bind": "loopback",
		},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
	_, exists := GetValueAtPath(root, []string{"gateway", "port"})
	assert.False(t, exists)

	val, exists := GetValueAtPath(root, []string{"gateway", "bind"})
	assert.True(t, exists)
	assert.Equal(t, "loopback", val)

	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "nonexistent"}))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRaw_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
