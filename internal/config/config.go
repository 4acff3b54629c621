package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main confer configuration
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Provider  ProviderConfig  `json:"provider" mapstructure:"provider"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`

	// Data directory for file and sqlite stores
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	ReadLimit       int64  `json:"read_limit" mapstructure:"read_limit"`             // bytes per frame
	ShutdownTimeout int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// AgentConfig holds the conversation loop settings
type AgentConfig struct {
	MaxDepth         int    `json:"max_depth" mapstructure:"max_depth"`
	SystemPrompt     string `json:"system_prompt" mapstructure:"system_prompt"`
	SystemPromptFile string `json:"system_prompt_file" mapstructure:"system_prompt_file"`
}

// ProviderConfig selects the completion backend
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"` // openai, anthropic
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout     int     `json:"timeout" mapstructure:"timeout"` // seconds
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// ToolsConfig configures the built-in tools
type ToolsConfig struct {
	DocumentServiceURL string   `json:"document_service_url" mapstructure:"document_service_url"`
	SearchServiceURL   string   `json:"search_service_url" mapstructure:"search_service_url"`
	TopK               int      `json:"top_k" mapstructure:"top_k"`
	Timeout            int      `json:"timeout" mapstructure:"timeout"` // seconds
	Allow              []string `json:"allow" mapstructure:"allow"`
	Deny               []string `json:"deny" mapstructure:"deny"`
}

// StoreConfig selects where transcripts are kept
type StoreConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"` // memory, file, sqlite, redis
	Path          string `json:"path" mapstructure:"path"`
	RedisAddr     string `json:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" mapstructure:"redis_db"`
	TTL           int    `json:"ttl" mapstructure:"ttl"` // seconds
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// RateLimitConfig limits questions per client
type RateLimitConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Limit   int  `json:"limit" mapstructure:"limit"`
	Window  int  `json:"window" mapstructure:"window"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
}

// TracingConfig enables OpenTelemetry spans
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// Accepted ranges
const (
	MinMaxTokens = 1000
	MaxMaxTokens = 5000
	MinDepth     = 1
	MaxDepth     = 100
)

var (
	validProviders = []string{"openai", "anthropic"}
	validBackends  = []string{"memory", "file", "sqlite", "redis"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadLimit:       64 * 1024,
			ShutdownTimeout: 30,
		},
		Agent: AgentConfig{
			MaxDepth: 10,
		},
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			MaxTokens:   4000,
			Timeout:     30,
			MaxRetries:  2,
		},
		Tools: ToolsConfig{
			DocumentServiceURL: "http://vector-service:8004",
			SearchServiceURL:   "http://search-service:8002",
			TopK:               3,
			Timeout:            10,
		},
		Store: StoreConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			TTL:           1800,
			SweepSchedule: "@every 5m",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   10,
			Window:  60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "confer",
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "***"
	}
	if masked.Store.RedisPassword != "" {
		masked.Store.RedisPassword = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Addr returns the listen address of the gateway
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderTimeout returns the provider request timeout
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.Timeout) * time.Second
}

// ToolTimeout returns the per-call tool timeout
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.Timeout) * time.Second
}

// SessionTTL returns how long an idle transcript is kept
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Store.TTL) * time.Second
}

// RateWindow returns the rate limit refill window
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}

// ShutdownTimeout returns how long a graceful stop may take
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if !contains(validProviders, c.Provider.Name) {
		return fmt.Errorf("invalid provider %q (must be one of: openai, anthropic)", c.Provider.Name)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("no API key configured for provider %s", c.Provider.Name)
	}
	if c.Provider.MaxTokens < MinMaxTokens || c.Provider.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("provider.max_tokens must be between %d and %d, got %d", MinMaxTokens, MaxMaxTokens, c.Provider.MaxTokens)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 1 {
		return fmt.Errorf("provider.temperature must be between 0 and 1, got %g", c.Provider.Temperature)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if c.Agent.MaxDepth < MinDepth || c.Agent.MaxDepth > MaxDepth {
		return fmt.Errorf("agent.max_depth must be between %d and %d, got %d", MinDepth, MaxDepth, c.Agent.MaxDepth)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive")
	}
	if !contains(validBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend %q (must be one of: memory, file, sqlite, redis)", c.Store.Backend)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store.ttl must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	if !contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
