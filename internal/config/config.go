package config

import "fmt"

// Provider names known to the relay.
const (
	ProviderXAI        = "xai"
	ProviderOpenRouter = "openrouter"
)

// Default model ids.
const (
	DefaultModel           = "xai/grok-4.1"
	DefaultOpenRouterModel = "cognitivecomputations/dolphin-mistral-24b-venice-edition:free"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Providers: DefaultProviders(),
		Relay: RelayConfig{
			DefaultModel:        DefaultModel,
			Order:               []string{ProviderXAI, ProviderOpenRouter},
			Fallback:            ProviderOpenRouter,
			ConnectTimeoutSec:   10,
			FirstByteTimeoutSec: 60,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Session: SessionConfig{
			Store: "sqlite",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "oracle",
			},
		},
	}
	return cfg
}

// DefaultProviders returns the built-in xAI and OpenRouter definitions.
func DefaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderXAI: {
			BaseURL:      "https://api.x.ai/v1",
			DefaultModel: "grok-4.1",
			Prefixes:     []string{"xai/", "grok"},
			MaxTokens:    800,
		},
		ProviderOpenRouter: {
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: DefaultOpenRouterModel,
			Prefixes:     []string{"openrouter/"},
			Headers: map[string]string{
				"HTTP-Referer": "https://v0.dev",
				"X-Title":      "BlackOracle Engine - Party Mode",
			},
			MaxTokens: 800,
		},
	}
}
