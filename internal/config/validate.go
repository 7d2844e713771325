package config

import (
	"fmt"
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

// KnownTools lists every tool name the assistant can expose.
var KnownTools = []string{
	"search_products",
	"get_product_by_id",
	"get_product_by_ean",
	"search_physical_stores",
	"get_physical_store",
	"compare_prices_by_url",
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	validProviders := []string{"groq", "openai", "ollama"}
	if !slices.Contains(validProviders, cfg.LLM.Provider) {
		add("llm.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		add("llm.apiKey", "required for provider %q (or set GROQ_API_KEY)", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature != nil && (*cfg.LLM.Temperature < 0 || *cfg.LLM.Temperature > 2) {
		add("llm.temperature", "must be between 0 and 2, got %v", *cfg.LLM.Temperature)
	}

	// Kassalapp
	if cfg.Kassalapp.APIKey == "" {
		add("kassalapp.apiKey", "required (or set KASSALAPP_API_KEY)")
	}
	if cfg.Kassalapp.RetryMax != nil && *cfg.Kassalapp.RetryMax < 0 {
		add("kassalapp.retryMax", "must be >= 0, got %d", *cfg.Kassalapp.RetryMax)
	}

	// Retrieval
	validModes := []string{"fts", "embedding"}
	if !slices.Contains(validModes, cfg.Retrieval.Mode) {
		add("retrieval.mode", "must be one of %v, got %q", validModes, cfg.Retrieval.Mode)
	}
	if cfg.Retrieval.NResults < 1 {
		add("retrieval.nResults", "must be >= 1, got %d", cfg.Retrieval.NResults)
	}
	if cfg.Retrieval.ChunkSize < 1 {
		add("retrieval.chunkSize", "must be >= 1, got %d", cfg.Retrieval.ChunkSize)
	}
	if cfg.Retrieval.Mode == "embedding" && cfg.Retrieval.Embedding.BaseURL == "" {
		add("retrieval.embedding.baseUrl", "required when retrieval.mode is embedding")
	}

	// Assistant
	if cfg.Assistant.MaxToolRounds < 1 {
		add("assistant.maxToolRounds", "must be >= 1, got %d", cfg.Assistant.MaxToolRounds)
	}
	for _, name := range cfg.Assistant.Tools {
		if !slices.Contains(KnownTools, name) {
			add("assistant.tools", "unknown tool %q", name)
		}
	}

	// Session
	validScopes := []string{"per-sender", "global"}
	if !slices.Contains(validScopes, cfg.Session.Scope) {
		add("session.scope", "must be one of %v, got %q", validScopes, cfg.Session.Scope)
	}
	validStores := []string{"sqlite", "memory"}
	if !slices.Contains(validStores, cfg.Session.Store) {
		add("session.store", "must be one of %v, got %q", validStores, cfg.Session.Store)
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	validAuthModes := []string{"none", "token", "password"}
	if !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// IRC validation (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	return issues
}
