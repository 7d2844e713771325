// Package tools exposes the Kassalapp API to the model as callable tools.
//
// Every dispatch produces a JSON payload. Failures below the model-call
// boundary are reported inside that payload so the model can react to them;
// Execute never returns a Go error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/logging"
)

// Tool is a capability the assistant can invoke during a turn.
type Tool interface {
	// Name returns the identifier the model calls the tool by.
	Name() string

	// Description returns the human-readable description sent to the model.
	Description() string

	// Parameters returns the JSON Schema declared to the model.
	Parameters() json.RawMessage

	// Execute runs the tool with loosely typed arguments and returns a value
	// that marshals to the payload handed back to the model.
	Execute(ctx context.Context, args map[string]any) any
}

// Failure is the error payload shape shared by all tools.
type Failure struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Registry holds tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
	log   *logging.Logger
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(log *logging.Logger, tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool), log: log.Sub("tools")}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns LLM-ready tool definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one tool call and returns its JSON payload.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) (out json.RawMessage) {
	log := r.log.With("tool", name)
	start := time.Now()

	t, ok := r.tools[name]
	if !ok {
		log.Warn().Msg("unknown tool requested")
		return marshalPayload(Failure{Error: "Tool not found"})
	}

	args, err := parseArgs(rawArgs)
	if err != nil {
		log.Warn().Err(err).Str("args", rawArgs).Msg("invalid tool arguments")
		return marshalPayload(Failure{Error: err.Error(), Message: "Invalid tool arguments"})
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("tool panicked")
			out = marshalPayload(Failure{Error: fmt.Sprint(p)})
		}
	}()

	out = marshalPayload(t.Execute(ctx, args))
	log.Debug().
		Dur("duration", time.Since(start)).
		Int("bytes", len(out)).
		Msg("tool executed")
	return out
}

func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func marshalPayload(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok && json.Valid(raw) {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(Failure{Error: err.Error()})
	}
	return data
}
