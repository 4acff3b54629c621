package agent

import "fmt"

// Depth bounds
const (
	DefaultMaxDepth = 10
	MinMaxDepth     = 1
	MaxMaxDepth     = 100
)

// Config configures agent behavior
type Config struct {
	MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
}

// DefaultConfig returns the default agent configuration
func DefaultConfig() Config {
	return Config{MaxDepth: DefaultMaxDepth}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxDepth < MinMaxDepth || c.MaxDepth > MaxMaxDepth {
		return fmt.Errorf("max_depth must be between %d and %d, got %d", MinMaxDepth, MaxMaxDepth, c.MaxDepth)
	}
	return nil
}
