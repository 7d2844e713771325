package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/kassa/internal/assistant"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Model    string `json:"model,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

// maxChatBody caps the POST /api/chat request body.
const maxChatBody = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, shape ErrorShape) {
	writeJSON(w, status, map[string]any{"error": shape})
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// authorizeRequest checks HTTP credentials, writing the error response
// itself when the request is refused.
func (s *Server) authorizeRequest(w http.ResponseWriter, r *http.Request) bool {
	if !s.authLimiter.allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, ErrorShape{Code: "rate_limited", Message: "too many failed auth attempts", Retryable: true})
		return false
	}
	if res := AuthorizeHTTP(s.auth, r); !res.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, ErrorShape{Code: "unauthorized", Message: res.Reason})
		return false
	}
	return true
}

// handleChat runs one turn for POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(w, r) {
		return
	}

	var p ChatSendParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, ErrorShape{Code: "invalid_params", Message: "invalid JSON body: " + err.Error()})
		return
	}

	key := p.SessionKey
	if key == "" {
		key = "http"
	}
	result, shape := s.chat(r.Context(), key, p.Message)
	if shape != nil {
		writeError(w, httpStatusFor(shape.Code), *shape)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTools lists the tool definitions the model is offered.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.toolList())
}

// errorShapeFor maps a turn error onto the wire error format.
func errorShapeFor(err error) ErrorShape {
	switch {
	case errors.Is(err, assistant.ErrTurnInProgress):
		return ErrorShape{Code: "busy", Message: err.Error(), Retryable: true, RetryAfter: 1000}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorShape{Code: "timeout", Message: err.Error(), Retryable: true}
	default:
		return ErrorShape{Code: "assistant_error", Message: err.Error()}
	}
}

func httpStatusFor(code string) int {
	switch code {
	case "invalid_params":
		return http.StatusBadRequest
	case "busy":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.RespondShape(ErrorShape{Code: code, Message: message})
}

// RespondShape sends a fully populated error response.
func (rc *RequestContext) RespondShape(shape ErrorShape) {
	if err := rc.Client.RespondError(rc.Frame.ID, shape); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error")
	}
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
