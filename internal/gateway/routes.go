package gateway

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
)

// ChannelID is the session channel used for gateway conversations.
const ChannelID = "gateway"

// turnTimeout bounds one assistant turn, retrieval and all tool rounds included.
const turnTimeout = 3 * time.Minute

// safeConfigPrefixes lists config path prefixes that can be read and
// written via RPC. All other paths are denied by default (allowlist).
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.allowedOrigins",
	"assistant.name",
	"assistant.greetings",
	"assistant.maxToolRounds",
	"retrieval.nResults",
	"retrieval.mode",
	"logging",
	"session",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/tools", s.handleTools)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.reset", s.rpcSessionReset)
	s.Handle("session.history", s.rpcSessionHistory)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("tools.list", s.rpcToolsList)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
}

// relayHooks forwards selected lifecycle events to connected clients.
// Session events go only to clients watching that session, and turn events
// carry ids and timing, never conversation text.
func (s *Server) relayHooks() {
	if s.hooks == nil {
		return
	}
	s.hooks.On(hooks.EventTurnEnd, "gateway", func(_ context.Context, p hooks.Payload) error {
		s.publish(p, EventChatTurn, map[string]any{
			"sessionId": p.Data["sessionId"],
			"duration":  p.Data["duration"],
		})
		return nil
	})
	s.hooks.On(hooks.EventSessionReset, "gateway", func(_ context.Context, p hooks.Payload) error {
		s.publish(p, EventSessionReset, map[string]any{"sessionId": p.Data["sessionId"]})
		return nil
	})
	s.hooks.On(hooks.EventKnowledgeSynced, "gateway", func(_ context.Context, p hooks.Payload) error {
		s.clients.Broadcast(EventKnowledgeSynced, p.Data, s.eventSeq.Add(1))
		return nil
	})
}

// publish relays a session-scoped hook payload. Payloads without a session
// key are dropped.
func (s *Server) publish(p hooks.Payload, event string, payload any) {
	key, _ := p.Data["key"].(string)
	if key == "" {
		return
	}
	s.clients.Publish(key, event, payload, s.eventSeq.Add(1))
}

func sessionKey(key string) domain.SessionKey {
	return domain.SessionKey{ChannelID: ChannelID, ChatID: key}
}

// chat runs one turn. It is shared by chat.send and POST /api/chat.
func (s *Server) chat(ctx context.Context, key, message string) (*ChatSendResult, *ErrorShape) {
	if s.service == nil {
		return nil, &ErrorShape{Code: "unavailable", Message: "assistant not configured"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &ErrorShape{Code: "invalid_params", Message: "message is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	res, err := s.service.Turn(ctx, sessionKey(key), message)
	if err != nil {
		ev := s.log.Warn().Err(err).Str("sessionKey", key)
		if id := requestIDFrom(ctx); id != "" {
			ev = ev.Str("requestId", id)
		}
		ev.Msg("turn failed")
		shape := errorShapeFor(err)
		return nil, &shape
	}
	return &ChatSendResult{
		Reply:      res.Reply,
		SessionID:  res.SessionID,
		DurationMs: res.Duration.Milliseconds(),
	}, nil
}

func (s *Server) toolList() ToolsListResult {
	if s.tools == nil {
		return ToolsListResult{Tools: nil}
	}
	return ToolsListResult{Tools: s.tools.Definitions()}
}

// defaultKey is the session a connection talks to when it names none.
func defaultKey(rc *RequestContext, key string) string {
	if key != "" {
		return key
	}
	return rc.Client.ConnID
}

func (s *Server) rpcHealth(rc *RequestContext) {
	h := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.service != nil {
		h.Model = s.service.Model()
	}
	rc.Respond(h)
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p ChatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	key := defaultKey(rc, p.SessionKey)
	rc.Client.Watch(sessionKey(key).String())
	result, shape := s.chat(rc.Ctx, key, p.Message)
	if shape != nil {
		rc.RespondShape(*shape)
		return
	}
	rc.Respond(result)
}

func (s *Server) rpcSessionReset(rc *RequestContext) {
	if s.service == nil {
		rc.RespondError("unavailable", "assistant not configured")
		return
	}
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	seed := p.Seed == nil || *p.Seed

	key := sessionKey(defaultKey(rc, p.SessionKey))
	rc.Client.Watch(key.String())
	sess, err := s.service.Reset(rc.Ctx, key, seed)
	if err != nil {
		rc.RespondShape(errorShapeFor(err))
		return
	}
	msgs := sess.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rc.Respond(SessionResetResult{SessionID: sess.ID, Messages: msgs})
}

func (s *Server) rpcSessionHistory(rc *RequestContext) {
	if s.service == nil {
		rc.RespondError("unavailable", "assistant not configured")
		return
	}
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	key := defaultKey(rc, p.SessionKey)
	rc.Client.Watch(sessionKey(key).String())
	msgs, err := s.service.History(sessionKey(key))
	if err != nil {
		rc.RespondShape(errorShapeFor(err))
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rc.Respond(SessionHistoryResult{SessionKey: key, Messages: msgs})
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	if s.service == nil {
		rc.Respond(map[string]any{"sessions": []string{}})
		return
	}
	ids, err := s.service.Sessions()
	if err != nil {
		rc.RespondShape(errorShapeFor(err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	rc.Respond(map[string]any{"sessions": ids})
}

func (s *Server) rpcToolsList(rc *RequestContext) {
	rc.Respond(s.toolList())
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels != nil {
		rc.Respond(map[string]any{"channels": s.channels.Status()})
		return
	}
	rc.Respond(map[string]any{"channels": []any{}})
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}

	path, err := config.ParseKeyPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	if s.configPath == "" {
		rc.RespondError("unavailable", "no config file")
		return
	}
	s.mu.RLock()
	raw, err := config.LoadRaw(s.configPath)
	s.mu.RUnlock()
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	val, ok := path.Get(raw)
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// rpcConfigSet writes one value to the config file. The edit is rejected
// when it does not decode into the config types or when it adds validation
// issues. Running components pick it up on restart.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "cannot modify config path: "+p.Key)
		return
	}

	path, err := config.ParseKeyPath(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	if s.configPath == "" {
		rc.RespondError("unavailable", "no config file")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := config.LoadRaw(s.configPath)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	before, err := config.FromRaw(raw)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}

	path.Set(raw, p.Value)
	after, err := config.FromRaw(raw)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if issues := newIssues(config.Validate(&before), config.Validate(&after)); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, issue := range issues {
			msgs[i] = issue.String()
		}
		rc.RespondError("invalid_params", strings.Join(msgs, "; "))
		return
	}

	if err := config.SaveRaw(s.configPath, raw); err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	s.log.Info().Str("key", p.Key).Msg("config updated")
	rc.Respond(map[string]any{"key": p.Key, "value": p.Value})
}

// newIssues returns the issues in after that were not already in before, so
// an edit is not blamed for problems it did not cause.
func newIssues(before, after []config.ValidationIssue) []config.ValidationIssue {
	var out []config.ValidationIssue
	for _, issue := range after {
		if !slices.Contains(before, issue) {
			out = append(out, issue)
		}
	}
	return out
}
