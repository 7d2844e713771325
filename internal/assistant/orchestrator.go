// Package assistant runs one conversational turn: greeting short-circuit,
// knowledge retrieval, system-prompt assembly and the bounded tool-calling
// loop against the chat-completion model.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/retrieval"
)

// Fixed replies.
const (
	GreetingReply   = "Hello! I am your Kassalapp Assistant. How can I help you find groceries or store info today?"
	ExhaustionReply = "I apologize, but I encountered an issue processing the results. Please try your question again."
	WelcomeMessage  = "Hi! 👋 I am your **Kassalapp Assistant**. I can help you find grocery prices at stores like Kiwi, Meny, Rema 1000, and more. \n\n" +
		"**⚡ Tip:** Specific questions (like *'Price of Pepsi Max at Kiwi'*) yield the fastest and most accurate results!"
)

const (
	defaultMaxToolRounds = 3
	defaultNResults      = 2
	defaultTemperature   = 0.1

	// greetingMaxWords is the exclusive upper bound on words for a greeting.
	greetingMaxWords = 3
)

// DefaultGreetings trigger the greeting short-circuit.
var DefaultGreetings = []string{"hi", "hello", "hei", "hallo", "hey"}

// Dispatcher executes tools by name and describes them to the model.
// *tools.Registry implements it.
type Dispatcher interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, rawArgs string) json.RawMessage
}

// Config tunes an Orchestrator. Zero values take the defaults.
type Config struct {
	Name          string
	Model         string
	MaxToolRounds int      // default 3
	NResults      int      // retrieved snippets per turn, default 2
	Greetings     []string // default DefaultGreetings
	Temperature   *float64 // default 0.1
	MaxTokens     int
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "Kassalapp Assistant"
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = defaultMaxToolRounds
	}
	if c.NResults <= 0 {
		c.NResults = defaultNResults
	}
	if len(c.Greetings) == 0 {
		c.Greetings = DefaultGreetings
	}
	if c.Temperature == nil {
		c.Temperature = llm.Float(defaultTemperature)
	}
}

// Orchestrator drives single turns. It holds no per-session state and is
// safe for concurrent use on distinct sessions.
type Orchestrator struct {
	cfg       Config
	client    llm.Client
	tools     Dispatcher
	retriever retrieval.Provider
	hooks     *hooks.Manager
	log       *logging.Logger
}

// NewOrchestrator creates an orchestrator. retriever may be nil (no
// context) and hm may be nil (no events).
func NewOrchestrator(
	cfg Config,
	client llm.Client,
	tools Dispatcher,
	retriever retrieval.Provider,
	hm *hooks.Manager,
	log *logging.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if retriever == nil {
		retriever = retrieval.Nop{}
	}
	return &Orchestrator{
		cfg:       cfg,
		client:    client,
		tools:     tools,
		retriever: retriever,
		hooks:     hm,
		log:       log.Sub("assistant"),
	}
}

// Model returns the configured primary model.
func (o *Orchestrator) Model() string { return o.cfg.Model }

// IsGreeting reports whether text is a short social opener: fewer than three
// words, at least one of which is a greeting token.
func IsGreeting(text string, greetings []string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) >= greetingMaxWords {
		return false
	}
	for _, w := range words {
		if slices.Contains(greetings, w) {
			return true
		}
	}
	return false
}

// HandleTurn answers userText within sess. The user message is appended
// first; on success exactly one terminal assistant message follows it. A
// failed completion call is returned as an error and leaves no assistant
// message behind. Tool traffic never reaches sess.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *domain.Session, userText string) (string, error) {
	start := time.Now()
	log := o.log.With("sessionId", sess.ID)

	history := sess.History()
	sess.Append(domain.UserMessage(userText))

	if IsGreeting(userText, o.cfg.Greetings) {
		log.Debug().Msg("greeting short-circuit")
		sess.Append(domain.AssistantMessage(GreetingReply))
		return GreetingReply, nil
	}

	snippets := o.retriever.Query(ctx, userText, o.cfg.NResults)
	defs := o.tools.Definitions()
	system := BuildSystemPrompt(PromptConfig{
		Name:    o.cfg.Name,
		Context: strings.Join(snippets, "\n"),
		Tools:   defs,
	})

	log.Info().
		Int("historyLen", len(history)).
		Int("snippets", len(snippets)).
		Msg("processing turn")

	// Turn-scoped working list: history, the new user message, then any
	// tool exchanges. Only the terminal answer leaves this function.
	working := append(history, sess.Messages[len(sess.Messages)-1])

	var (
		reply  string
		rounds int
		usage  llm.Usage
	)
	for rounds < o.cfg.MaxToolRounds {
		rounds++
		resp, err := o.client.Complete(ctx, llm.CompletionRequest{
			Model:       o.cfg.Model,
			System:      system,
			Messages:    working,
			Tools:       defs,
			ToolChoice:  llm.ToolChoiceAuto,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		})
		if err != nil {
			log.Error().Err(err).Int("round", rounds).Msg("completion failed")
			return "", fmt.Errorf("LLM completion: %w", err)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			reply = resp.Content
			break
		}

		if strings.TrimSpace(resp.Content) != "" {
			log.Debug().Str("content", resp.Content).Msg("withholding text sent alongside tool calls")
		}
		working = append(working, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		})
		working = append(working, o.runTools(ctx, sess.ID, resp.ToolCalls)...)
	}

	if err := domain.ValidateToolProtocol(working); err != nil {
		log.Warn().Err(err).Msg("working list breaks tool protocol")
	}

	final := SanitizeReply(reply, log)
	if final == "" {
		if reply == "" {
			log.Warn().Int("rounds", rounds).Msg("no final answer within round budget")
		} else {
			log.Warn().Msg("final answer was empty after sanitizing")
		}
		final = ExhaustionReply
	}
	sess.Append(domain.AssistantMessage(final))

	log.Info().
		Int("rounds", rounds).
		Int("inputTokens", usage.InputTokens).
		Int("outputTokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("turn complete")
	return final, nil
}

// runTools executes calls sequentially in the order issued and returns one
// tool message per call.
func (o *Orchestrator) runTools(ctx context.Context, sessionID string, calls []domain.ToolCall) []domain.Message {
	out := make([]domain.Message, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		result := o.tools.Execute(ctx, call.Name, call.Arguments)

		o.log.Info().
			Str("tool", call.Name).
			Str("callId", call.ID).
			Dur("duration", time.Since(start)).
			Msg("tool executed")
		o.hooks.Emit(ctx, hooks.EventToolCall, map[string]any{
			"sessionId": sessionID,
			"tool":      call.Name,
			"arguments": call.Arguments,
			"result":    string(result),
		})

		out = append(out, domain.ToolResultMessage(call, string(result)))
	}
	return out
}
