package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultLLMBaseURL       = "https://api.groq.com/openai/v1"
	DefaultModel            = "llama-3.3-70b-versatile"
	DefaultFallbackModel    = "llama-3.1-8b-instant"
	DefaultKassalappBaseURL = "https://kassal.app/api/v1"
	DefaultTemperature      = 0.1
)

// DefaultTools are the tools declared to the model unless configured otherwise.
var DefaultTools = []string{"search_products", "search_physical_stores"}

// DefaultGreetings trigger the greeting short-circuit.
var DefaultGreetings = []string{"hi", "hello", "hei", "hallo", "hey"}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// TemperatureOrDefault returns the configured sampling temperature or the default.
func (c LLMConfig) TemperatureOrDefault() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// RetryMaxOrDefault returns the configured retry count. Zero disables retries.
func (c KassalappConfig) RetryMaxOrDefault() int {
	if c.RetryMax == nil {
		return 2
	}
	return *c.RetryMax
}

// SeedWelcomeOrDefault reports whether new sessions start with the welcome message.
func (c AssistantConfig) SeedWelcomeOrDefault() bool {
	if c.SeedWelcome == nil {
		return true
	}
	return *c.SeedWelcome
}
