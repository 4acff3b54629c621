package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator reports every problem in a configuration, including the soft
// ones that do not stop the server from starting.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key against the vendor's usual format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < MinMaxTokens || tokens > MaxMaxTokens {
		return fmt.Errorf("max tokens must be between %d and %d, got %d", MinMaxTokens, MaxMaxTokens, tokens)
	}
	return nil
}

// ValidateMaxDepth validates the round limit of a turn
func (v *Validator) ValidateMaxDepth(depth int) error {
	if depth < MinDepth || depth > MaxDepth {
		return fmt.Errorf("max depth must be between %d and %d, got %d", MinDepth, MaxDepth, depth)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if contains(validLogLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLogLevels, ", "))
}

// ValidateServiceURL checks that a collaborator URL is absolute http(s)
func (v *Validator) ValidateServiceURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", name, raw)
	}
	return nil
}

// ValidateSchedule checks a sweep schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if !contains(validProviders, cfg.Provider.Name) {
		errors = append(errors, fmt.Errorf("invalid provider %q (must be one of: %s)", cfg.Provider.Name, strings.Join(validProviders, ", ")))
	} else if cfg.Provider.BaseURL == "" {
		if err := v.ValidateAPIKey(cfg.Provider.APIKey, cfg.Provider.Name); err != nil {
			errors = append(errors, err)
		}
	} else if cfg.Provider.APIKey == "" {
		errors = append(errors, fmt.Errorf("%s API key cannot be empty", cfg.Provider.Name))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, fmt.Errorf("invalid server port: %d", cfg.Server.Port))
	}
	if err := v.ValidateTemperature(cfg.Provider.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Provider.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxDepth(cfg.Agent.MaxDepth); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tools.DocumentServiceURL != "" {
		if err := v.ValidateServiceURL("tools.document_service_url", cfg.Tools.DocumentServiceURL); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Tools.SearchServiceURL != "" {
		if err := v.ValidateServiceURL("tools.search_service_url", cfg.Tools.SearchServiceURL); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Provider.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("provider.timeout must be positive"))
	}
	if cfg.Tools.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("tools.timeout must be positive"))
	}
	if cfg.Tools.TopK <= 0 {
		errors = append(errors, fmt.Errorf("tools.top_k must be positive"))
	}

	if err := v.ValidateSchedule(cfg.Store.SweepSchedule); err != nil {
		errors = append(errors, err)
	}
	if !contains(validBackends, cfg.Store.Backend) {
		errors = append(errors, fmt.Errorf("invalid store backend %q (must be one of: %s)", cfg.Store.Backend, strings.Join(validBackends, ", ")))
	}
	if cfg.Store.TTL <= 0 {
		errors = append(errors, fmt.Errorf("store.ttl must be positive"))
	}
	if cfg.Store.Backend == "redis" && cfg.Store.RedisAddr == "" {
		errors = append(errors, fmt.Errorf("store.redis_addr is required for the redis backend"))
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0) {
		errors = append(errors, fmt.Errorf("rate_limit.limit and rate_limit.window must be positive"))
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
