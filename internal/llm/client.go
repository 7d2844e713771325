// Package llm defines the chat-completion client interface and the
// OpenAI-compatible provider used to talk to Groq, OpenAI, and Ollama.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/kassa/internal/domain"
)

// Tool choice values understood by OpenAI-compatible endpoints.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ToolDefinition describes a tool the model can invoke. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is the input to a Complete call. System, when set, is
// sent as the leading system message.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []domain.Message `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"toolChoice,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the model's reply: either final Content or a set
// of ToolCalls to execute.
type CompletionResponse struct {
	Content    string            `json:"content"`
	StopReason string            `json:"stopReason,omitempty"`
	ToolCalls  []domain.ToolCall `json:"toolCalls,omitempty"`
	Usage      Usage             `json:"usage"`
	Model      string            `json:"model,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Client is the interface all chat-completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "groq", "ollama").
	Name() string
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// ProviderError is a non-2xx answer from a provider. Code is the HTTP
// status, or 0 when the response was malformed.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
