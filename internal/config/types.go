package config

// Config is the root configuration for the Kassalapp assistant.
type Config struct {
	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Kassalapp KassalappConfig `yaml:"kassalapp,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// LLMConfig selects the chat-completion provider.
type LLMConfig struct {
	Provider    string   `yaml:"provider,omitempty"` // "groq" | "openai" | "ollama"
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	APIKey      string   `yaml:"apiKey,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"` // models tried in order when the primary fails
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	TimeoutSec  int      `yaml:"timeoutSec,omitempty"`
}

// KassalappConfig configures the grocery price API client.
type KassalappConfig struct {
	BaseURL    string `yaml:"baseUrl,omitempty"`
	APIKey     string `yaml:"apiKey,omitempty"`
	TimeoutSec int    `yaml:"timeoutSec,omitempty"`
	RetryMax   *int   `yaml:"retryMax,omitempty"`
	RatePerMin int    `yaml:"ratePerMin,omitempty"`
}

// RetrievalConfig configures the knowledge store and its ingestion.
type RetrievalConfig struct {
	Mode         string          `yaml:"mode,omitempty"` // "fts" | "embedding"
	NResults     int             `yaml:"nResults,omitempty"`
	TimeoutSec   int             `yaml:"timeoutSec,omitempty"`
	KnowledgeDir string          `yaml:"knowledgeDir,omitempty"`
	ChunkSize    int             `yaml:"chunkSize,omitempty"`
	BatchSize    int             `yaml:"batchSize,omitempty"`
	MaxRetries   int             `yaml:"maxRetries,omitempty"`
	Embedding    EmbeddingConfig `yaml:"embedding,omitempty"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL     string `yaml:"baseUrl,omitempty"`
	APIKey      string `yaml:"apiKey,omitempty"`
	Model       string `yaml:"model,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
}

// AssistantConfig tunes the conversation loop.
type AssistantConfig struct {
	Name          string            `yaml:"name,omitempty"`
	MaxToolRounds int               `yaml:"maxToolRounds,omitempty"`
	Greetings     []string          `yaml:"greetings,omitempty"`
	Tools         []string          `yaml:"tools,omitempty"` // enabled tool names
	StoreAliases  map[string]string `yaml:"storeAliases,omitempty"`
	SeedWelcome   *bool             `yaml:"seedWelcome,omitempty"`
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	Scope string `yaml:"scope,omitempty"` // "per-sender" | "global"
	Store string `yaml:"store,omitempty"` // "sqlite" | "memory"
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ChannelsConfig defines chat channel integrations.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	AllowDMs bool     `yaml:"allowDMs,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
