package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.LLM.APIKey = "gsk-test"
	cfg.Kassalapp.APIKey = "kassal-test"
	return cfg
}

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MissingKeys(t *testing.T) {
	cfg := Defaults()
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "llm.apiKey")
	assert.Contains(t, paths, "kassalapp.apiKey")
}

func TestValidate_OllamaNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"temperature range", func(c *Config) { v := 3.0; c.LLM.Temperature = &v }, "llm.temperature"},
		{"negative retries", func(c *Config) { v := -1; c.Kassalapp.RetryMax = &v }, "kassalapp.retryMax"},
		{"retrieval mode", func(c *Config) { c.Retrieval.Mode = "pinecone" }, "retrieval.mode"},
		{"n results", func(c *Config) { c.Retrieval.NResults = 0 }, "retrieval.nResults"},
		{"embedding url", func(c *Config) { c.Retrieval.Mode = "embedding" }, "retrieval.embedding.baseUrl"},
		{"tool rounds", func(c *Config) { c.Assistant.MaxToolRounds = 0 }, "assistant.maxToolRounds"},
		{"unknown tool", func(c *Config) { c.Assistant.Tools = []string{"fetch_weather"} }, "assistant.tools"},
		{"session scope", func(c *Config) { c.Session.Scope = "team" }, "session.scope"},
		{"session store", func(c *Config) { c.Session.Store = "redis" }, "session.store"},
		{"gateway port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"gateway bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"custom bind host", func(c *Config) { c.Gateway.Bind = "custom" }, "gateway.customBindHost"},
		{"auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "fancy" }, "logging.consoleStyle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.Len(t, issues, 1, "issues: %v", issues)
			assert.Equal(t, tt.path, issues[0].Path)
		})
	}
}

func TestValidate_IRC(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.IRC = &IRCConfig{Port: -1, SASL: true}

	paths := issuePaths(Validate(&cfg))
	assert.ElementsMatch(t, []string{
		"channels.irc.server",
		"channels.irc.nick",
		"channels.irc.port",
		"channels.irc.sasl",
	}, paths)

	cfg.Channels.IRC = &IRCConfig{Server: "irc.libera.chat", Nick: "kassabot", Password: "pw", SASL: true}
	assert.Empty(t, Validate(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "llm.model", Message: "bad"}
	assert.Equal(t, "llm.model: bad", issue.String())
}
