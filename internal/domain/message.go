package domain

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is a single turn in a conversation.
//
// Assistant messages may carry ToolCalls instead of (or alongside) Content.
// Tool messages carry the result of one call and reference it via
// ToolCallID; Name is the tool that produced the result.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is a request from the model to invoke a tool. Arguments is the
// raw JSON text exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UserMessage builds a user message stamped with the current time.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// AssistantMessage builds a plain assistant reply.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now()}
}

// ToolResultMessage builds the tool message answering call.
func ToolResultMessage(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		Timestamp:  time.Now(),
	}
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ErrToolProtocol is wrapped by ValidateToolProtocol failures.
var ErrToolProtocol = errors.New("tool protocol violation")

// ValidateToolProtocol checks that every tool message answers a call issued
// by the nearest preceding assistant message, and that every call is
// answered before any other message follows.
func ValidateToolProtocol(msgs []Message) error {
	pending := map[string]bool{}
	var order []string

	unanswered := func() error {
		for _, id := range order {
			if pending[id] {
				return fmt.Errorf("%w: tool call %q has no result", ErrToolProtocol, id)
			}
		}
		return nil
	}

	for i, m := range msgs {
		if m.Role == RoleTool {
			if !pending[m.ToolCallID] {
				return fmt.Errorf("%w: message %d answers unknown or already answered call %q", ErrToolProtocol, i, m.ToolCallID)
			}
			pending[m.ToolCallID] = false
			continue
		}

		if err := unanswered(); err != nil {
			return err
		}
		pending = map[string]bool{}
		order = order[:0]

		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("%w: message %d has a tool call without id", ErrToolProtocol, i)
				}
				pending[tc.ID] = true
				order = append(order, tc.ID)
			}
		}
	}
	return unanswered()
}
