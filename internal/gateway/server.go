// Package gateway exposes the assistant over HTTP and a WebSocket
// JSON-frame protocol.
package gateway

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/kassa/internal/assistant"
	"github.com/soyeahso/kassa/internal/channel"
	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/version"
)

// ErrClientClosed is returned when sending to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 1 << 20 // largest frame a client may send
	handshakeTimeout = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// TurnService runs assistant turns. *assistant.Service implements it.
type TurnService interface {
	Turn(ctx context.Context, key domain.SessionKey, text string) (*assistant.TurnResult, error)
	Reset(ctx context.Context, key domain.SessionKey, seed bool) (*domain.Session, error)
	History(key domain.SessionKey) ([]domain.Message, error)
	Sessions() ([]string, error)
	Model() string
}

// ToolLister reports the tools offered to the model.
type ToolLister interface {
	Definitions() []llm.ToolDefinition
}

var _ TurnService = (*assistant.Service)(nil)

// Server is the kassa gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	mu         sync.RWMutex // serialises config file edits
	configPath string

	service  TurnService       // nil when no model is configured
	tools    ToolLister        // optional
	channels *channel.Registry // optional
	hooks    *hooks.Manager    // optional

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

type ServerOption func(*Server)

// WithConfigFile lets config.get and config.set read and edit the config
// file at path.
func WithConfigFile(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// WithService enables chat.send, POST /api/chat and the session methods.
// Without it they answer "unavailable".
func WithService(svc TurnService) ServerOption {
	return func(s *Server) { s.service = svc }
}

func WithTools(t ToolLister) ServerOption {
	return func(s *Server) { s.tools = t }
}

func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks relays turn, reset and knowledge sync events to clients and
// emits gateway start and stop.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		startedAt:   time.Now(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.relayHooks()
	return s
}

// checkWebSocketOrigin admits requests without an Origin header, which
// come from non-browser clients, and browsers from allowed origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method, replacing any existing handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC methods in order.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

var bindHosts = map[string]string{
	"loopback": "127.0.0.1",
	"lan":      "0.0.0.0",
	"auto":     "0.0.0.0",
}

// resolveBindAddr maps gateway.bind to a listen address. Unknown modes
// fall back to loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host, ok := bindHosts[cfg.Bind]
	switch {
	case cfg.Bind == "custom":
		host = cmp.Or(cfg.CustomBindHost, "0.0.0.0")
	case !ok:
		host = bindHosts["loopback"]
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// Start serves HTTP and WebSocket traffic until ctx ends, then closes
// every client and shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	s.httpServer = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: turnTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	if s.auth.Mode == AuthModeNone && s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Str("bind", s.cfg.Gateway.Bind).Msg("gateway auth is disabled on a non-loopback address")
	}
	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Bool("assistant", s.service != nil).
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		s.log.Info().Msg("gateway shutting down")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		s.clients.CloseAll()
		s.authLimiter.stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (s *Server) model() string {
	if s.service == nil {
		return ""
	}
	return s.service.Model()
}

// Addr is the bound listen address once Start has begun, or "".
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// handleWebSocket upgrades the request, authenticates the client and runs
// its request loop. Failed handshakes count against the remote host.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after repeated auth failures")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshakeError is a handshake failure the client is told about before
// the connection closes.
type handshakeError struct {
	reqID string
	shape ErrorShape
}

func (e *handshakeError) Error() string {
	return e.shape.Code + ": " + e.shape.Message
}

func rejectConnect(reqID, code, msg string) error {
	return &handshakeError{reqID: reqID, shape: ErrorShape{Code: code, Message: msg}}
}

// handshake runs challenge, connect, hello. The client is registered
// before hello is sent so it misses no event that follows it.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	req, err := s.readConnect(conn)
	if err != nil {
		var he *handshakeError
		if errors.As(err, &he) {
			conn.WriteJSON(NewErrorResponse(he.reqID, he.shape))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, he.shape.Message))
		}
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, req.params.Client, req.auth)
	hello, err := NewResponse(req.id, s.hello(client.ConnID))
	if err != nil {
		return nil, fmt.Errorf("creating hello: %w", err)
	}

	s.clients.Add(client)
	if err := client.Send(hello); err != nil {
		s.clients.Remove(client.ConnID)
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", req.params.Client.ID).
		Str("clientVersion", req.params.Client.Version).
		Str("authMethod", req.auth.Method).
		Msg("client authenticated")
	return client, nil
}

type connectRequest struct {
	id     string
	params ConnectParams
	auth   AuthResult
}

// readConnect sends the challenge and reads back an authorized connect
// request.
func (s *Server) readConnect(conn *websocket.Conn) (connectRequest, error) {
	var req connectRequest

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return req, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return req, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return req, fmt.Errorf("reading connect: %w", err)
	}
	req.id = frame.ID
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		return req, rejectConnect(frame.ID, "protocol_error", "expected connect request")
	}
	if err := json.Unmarshal(frame.Params, &req.params); err != nil {
		return req, rejectConnect(frame.ID, "invalid_params", "invalid connect params")
	}
	if !req.params.supports(ProtocolVersion) {
		return req, rejectConnect(frame.ID, "protocol_mismatch",
			fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
	}
	req.auth = Authorize(s.auth, req.params.Auth)
	if !req.auth.OK {
		return req, rejectConnect(frame.ID, "unauthorized", req.auth.Reason)
	}
	return req, nil
}

func (s *Server) hello(connID string) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			Model:   s.model(),
			ConnID:  connID,
		},
		Features: Features{Methods: s.Methods(), Events: pushedEvents},
		Policy: ServerPolicy{
			MaxPayload:     maxPayload,
			TurnTimeoutMs:  int(turnTimeout.Milliseconds()),
			MaxMessageSize: maxChatBody,
		},
	}
}

// readLoop serves requests from an authenticated client in arrival order,
// so a connection runs one turn at a time.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			return
		case err != nil:
			s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			return
		case frame.Type != FrameTypeRequest:
			s.log.Debug().Str("connId", client.ConnID).Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	start := time.Now()
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
	s.log.Debug().
		Str("connId", client.ConnID).
		Str("method", frame.Method).
		Dur("duration", time.Since(start)).
		Msg("rpc handled")
}
