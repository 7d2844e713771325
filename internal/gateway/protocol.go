package gateway

import (
	"encoding/json"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/llm"
)

// ProtocolVersion is the only frame protocol version this server speaks.
const ProtocolVersion = 1

const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Server-pushed events. Session events reach only the clients that have
// used or read that session.
const (
	EventChallenge       = "connect.challenge"
	EventChatTurn        = "chat.turn"
	EventSessionReset    = "session.reset"
	EventKnowledgeSynced = "knowledge.synced"
)

var pushedEvents = []string{EventChallenge, EventChatTurn, EventSessionReset, EventKnowledgeSynced}

// Frame is the WebSocket envelope. Requests carry ID, Method and Params;
// responses ID, OK and Payload or Error; events Event, Seq and Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response, over WebSocket and
// HTTP alike.
type ErrorShape struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfterMs,omitempty"`
}

// ConnectParams open a connection. The client offers the protocol range
// it speaks; a zero MaxProtocol accepts any version.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
}

type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"` // "app" | "cli" | "web"
}

type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Model   string `json:"model,omitempty"`
	ConnID  string `json:"connId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TurnTimeoutMs  int `json:"turnTimeoutMs"`
	MaxMessageSize int `json:"maxMessageSize"`
}

// ChatSendParams are the params of chat.send and the body of POST /api/chat.
// An empty SessionKey selects the caller's default session.
type ChatSendParams struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Message    string `json:"message"`
}

// ChatSendResult answers chat.send.
type ChatSendResult struct {
	Reply      string `json:"reply"`
	SessionID  string `json:"sessionId"`
	DurationMs int64  `json:"durationMs"`
}

// SessionParams address one session in session.reset and session.history.
type SessionParams struct {
	SessionKey string `json:"sessionKey"`
	Seed       *bool  `json:"seed,omitempty"` // session.reset only; defaults to true
}

// SessionResetResult answers session.reset.
type SessionResetResult struct {
	SessionID string           `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
}

// SessionHistoryResult answers session.history.
type SessionHistoryResult struct {
	SessionKey string           `json:"sessionKey"`
	Messages   []domain.Message `json:"messages"`
}

// ToolsListResult answers tools.list.
type ToolsListResult struct {
	Tools []llm.ToolDefinition `json:"tools"`
}

// supports reports whether the offered protocol range includes ours.
func (p ConnectParams) supports(v int) bool {
	if p.MaxProtocol == 0 {
		return true
	}
	return p.MinProtocol <= v && v <= p.MaxProtocol
}

func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Seq: seq, Payload: raw}, nil
}
