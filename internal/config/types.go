package config

// Config is the root configuration for the Oracle relay.
type Config struct {
	Gateway   GatewayConfig             `yaml:"gateway,omitempty"`
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
	Relay     RelayConfig               `yaml:"relay,omitempty"`
	Session   SessionConfig             `yaml:"session,omitempty"`
	Logging   LoggingConfig             `yaml:"logging,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ProviderConfig describes one OpenAI-compatible upstream.
type ProviderConfig struct {
	BaseURL      string            `yaml:"baseUrl,omitempty"`
	APIKey       string            `yaml:"apiKey,omitempty"`
	DefaultModel string            `yaml:"defaultModel,omitempty"`
	Prefixes     []string          `yaml:"prefixes,omitempty"` // model id prefixes routed to this provider
	Headers      map[string]string `yaml:"headers,omitempty"`
	Temperature  *float64          `yaml:"temperature,omitempty"`
	MaxTokens    int               `yaml:"maxTokens,omitempty"`
}

// RelayConfig controls provider selection and upstream timeouts.
type RelayConfig struct {
	DefaultModel        string   `yaml:"defaultModel,omitempty"`
	Order               []string `yaml:"order,omitempty"`    // providers tried for a matching model, in order
	Fallback            string   `yaml:"fallback,omitempty"` // provider used with its default model when the primary fails
	ConnectTimeoutSec   int      `yaml:"connectTimeoutSec,omitempty"`
	FirstByteTimeoutSec int      `yaml:"firstByteTimeoutSec,omitempty"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	Store string      `yaml:"store,omitempty"` // "sqlite" | "bolt" | "redis" | "memory"
	Path  string      `yaml:"path,omitempty"`  // database file for sqlite and bolt
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
