// Package hooks dispatches assistant lifecycle events to registered handlers.
package hooks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/soyeahso/kassa/internal/logging"
)

const (
	EventMessageReceived = "message_received" // channel message accepted by the router
	EventMessageSending  = "message_sending"  // reply about to go out on a channel
	EventTurnStart       = "turn_start"
	EventTurnEnd         = "turn_end"
	EventTurnError       = "turn_error"
	EventToolCall        = "tool_call"
	EventSessionReset    = "session_reset"
	EventKnowledgeSynced = "knowledge_synced"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// Events lists every event the assistant emits.
var Events = []string{
	EventMessageReceived,
	EventMessageSending,
	EventTurnStart,
	EventTurnEnd,
	EventTurnError,
	EventToolCall,
	EventSessionReset,
	EventKnowledgeSynced,
	EventGatewayStart,
	EventGatewayStop,
}

type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to an event. Errors and panics are logged and never
// reach the emitter.
type Handler func(ctx context.Context, p Payload) error

// Manager holds handlers per event. A nil *Manager ignores Emit, so
// components take an optional manager without checks.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
	log      *logging.Logger
}

type registration struct {
	name string
	fn   Handler
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]*registration),
		log:      log.Sub("hooks"),
	}
}

// On registers fn for event under name, which appears in failure logs.
// The returned func removes this registration.
func (m *Manager) On(event, name string, fn Handler) (remove func()) {
	if !slices.Contains(Events, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("hook registered for unknown event")
	}
	reg := &registration{name: name, fn: fn}

	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], reg)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(r *registration) bool { return r == reg })
	}
}

// Emit runs the handlers for event synchronously, in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	regs := slices.Clone(m.handlers[event])
	m.mu.RUnlock()
	if len(regs) == 0 {
		return
	}

	p := Payload{Event: event, Time: time.Now(), Data: data}
	for _, r := range regs {
		m.call(ctx, r, p)
	}
}

func (m *Manager) call(ctx context.Context, r *registration, p Payload) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = r.fn(ctx, p) })
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
	}
	if err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", r.name).Msg("hook handler failed")
	}
}

// Handlers reports how many handlers event has.
func (m *Manager) Handlers(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// LogEvents logs every event with its data at debug level.
func LogEvents(m *Manager, log *logging.Logger) {
	l := log.Sub("events")
	for _, event := range Events {
		m.On(event, "log", func(_ context.Context, p Payload) error {
			l.Debug().Str("event", p.Event).Fields(p.Data).Msg("hook event")
			return nil
		})
	}
}
