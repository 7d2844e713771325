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
// credential fields so keys and passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.Kassalapp.APIKey = expandEnvVars(cfg.Kassalapp.APIKey)
	cfg.Retrieval.Embedding.APIKey = expandEnvVars(cfg.Retrieval.Embedding.APIKey)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		cfg := Defaults()
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	return parse(data)
}

// FromRaw decodes a raw config map the way Load decodes the file, so edits
// made through KeyPath can be type-checked and validated before saving.
func FromRaw(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Config{}, &ConfigError{Message: "failed to encode config: " + err.Error()}
	}
	return parse(data)
}

func parse(data []byte) (Config, error) {
	// Defaults are applied after parsing so provider-dependent values such
	// as the base URL follow the configured provider.
	var cfg Config
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
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "groq"
	}
	if cfg.LLM.BaseURL == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		case "ollama":
			cfg.LLM.BaseURL = "http://localhost:11434/v1"
		default:
			cfg.LLM.BaseURL = DefaultLLMBaseURL
		}
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.TimeoutSec == 0 {
		cfg.LLM.TimeoutSec = 120
	}

	if cfg.Kassalapp.BaseURL == "" {
		cfg.Kassalapp.BaseURL = DefaultKassalappBaseURL
	}
	if cfg.Kassalapp.TimeoutSec == 0 {
		cfg.Kassalapp.TimeoutSec = 15
	}
	if cfg.Kassalapp.RatePerMin == 0 {
		cfg.Kassalapp.RatePerMin = 60
	}

	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = "fts"
	}
	if cfg.Retrieval.NResults == 0 {
		cfg.Retrieval.NResults = 2
	}
	if cfg.Retrieval.TimeoutSec == 0 {
		cfg.Retrieval.TimeoutSec = 5
	}
	if cfg.Retrieval.KnowledgeDir == "" {
		cfg.Retrieval.KnowledgeDir = "knowledge"
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 800
	}
	if cfg.Retrieval.BatchSize == 0 {
		cfg.Retrieval.BatchSize = 100
	}
	if cfg.Retrieval.MaxRetries == 0 {
		cfg.Retrieval.MaxRetries = 3
	}
	if cfg.Retrieval.Embedding.Model == "" {
		cfg.Retrieval.Embedding.Model = "all-minilm"
	}
	if cfg.Retrieval.Embedding.Concurrency == 0 {
		cfg.Retrieval.Embedding.Concurrency = 4
	}

	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "Kassalapp Assistant"
	}
	if cfg.Assistant.MaxToolRounds == 0 {
		cfg.Assistant.MaxToolRounds = 3
	}
	if len(cfg.Assistant.Greetings) == 0 {
		cfg.Assistant.Greetings = append([]string(nil), DefaultGreetings...)
	}
	if len(cfg.Assistant.Tools) == 0 {
		cfg.Assistant.Tools = append([]string(nil), DefaultTools...)
	}

	if cfg.Session.Scope == "" {
		cfg.Session.Scope = "per-sender"
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "sqlite"
	}

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads KASSA_* environment variables, plus the provider
// variables the assistant has always honored, and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" && cfg.LLM.Provider == "groq" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KASSALAPP_API_KEY"); v != "" {
		cfg.Kassalapp.APIKey = v
	}

	if v := os.Getenv("KASSA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("KASSA_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KASSA_RETRIEVAL_MODE"); v != "" {
		cfg.Retrieval.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("KASSA_KNOWLEDGE_DIR"); v != "" {
		cfg.Retrieval.KnowledgeDir = v
	}
	if v := os.Getenv("KASSA_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("KASSA_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("KASSA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
