// Package routing connects chat channels to the assistant service.
package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/soyeahso/kassa/internal/assistant"
	"github.com/soyeahso/kassa/internal/channel"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/hooks"
	"github.com/soyeahso/kassa/internal/logging"
)

// User-facing replies for the chat commands and failure cases.
const (
	ResetReply = "Conversation reset. What groceries are you looking for?"
	BusyReply  = "I am still working on your previous question, one moment."
	ErrorReply = "Sorry, I could not reach the assistant right now. Please try again."
	HelpReply  = "Ask me about grocery prices or stores. Commands: !reset starts over, !help shows this."
)

const (
	defaultMaxInFlight = 8
	turnTimeout        = 3 * time.Minute
)

// Turner runs assistant turns. *assistant.Service implements it.
type Turner interface {
	Turn(ctx context.Context, key domain.SessionKey, text string) (*assistant.TurnResult, error)
	Reset(ctx context.Context, key domain.SessionKey, seed bool) (*domain.Session, error)
}

// Options tune a Router.
type Options struct {
	Scope       string // "per-sender" (default) | "global"
	MaxInFlight int    // concurrent inbound messages, default 8
}

// Router routes inbound channel messages to the assistant and sends the
// replies back through the originating channel.
type Router struct {
	channels *channel.Registry
	service  Turner
	hooks    *hooks.Manager
	scope    string
	log      *logging.Logger

	pool *pool.ContextPool
}

// NewRouter creates a message router.
func NewRouter(channels *channel.Registry, service Turner, hm *hooks.Manager, opts Options, log *logging.Logger) *Router {
	if opts.Scope == "" {
		opts.Scope = ScopePerSender
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	return &Router{
		channels: channels,
		service:  service,
		hooks:    hm,
		scope:    opts.Scope,
		log:      log.Sub("routing"),
		pool:     pool.New().WithMaxGoroutines(opts.MaxInFlight).WithContext(context.Background()),
	}
}

// HandleInbound answers one inbound message. Errors are reported to the
// user as a short apology and logged; they never propagate.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	key := ResolveSessionKey(msg, r.scope)
	log := r.log.With("session", key.String())

	log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")

	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"channel": msg.ChannelID,
		"from":    msg.From,
		"chatId":  msg.ChatID,
		"body":    msg.Body,
	})

	body := r.respond(ctx, key, msg.Body)
	if body == "" {
		return
	}
	r.reply(ctx, msg, body)
}

// respond produces the reply text for one message body.
func (r *Router) respond(ctx context.Context, key domain.SessionKey, text string) string {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "!reset":
		if _, err := r.service.Reset(ctx, key, true); err != nil {
			return r.failure(key, err)
		}
		return ResetReply
	case "!help":
		return HelpReply
	}

	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	res, err := r.service.Turn(ctx, key, text)
	if err != nil {
		return r.failure(key, err)
	}
	r.log.Info().
		Str("session", key.String()).
		Str("sessionId", res.SessionID).
		Dur("duration", res.Duration).
		Msg("turn answered")
	return res.Reply
}

func (r *Router) failure(key domain.SessionKey, err error) string {
	if errors.Is(err, assistant.ErrTurnInProgress) {
		return BusyReply
	}
	r.log.Error().Err(err).Str("session", key.String()).Msg("assistant turn failed")
	return ErrorReply
}

func (r *Router) reply(ctx context.Context, msg domain.InboundMessage, body string) {
	out := domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        replyTarget(msg),
		Body:      body,
	}
	// Address the asker in shared chats so concurrent threads stay readable.
	if msg.ChatType == domain.ChatTypeGroup && msg.From != "" {
		out.Body = msg.From + ": " + body
	}

	r.hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
		"channel": out.ChannelID,
		"to":      out.To,
		"body":    out.Body,
	})

	if err := r.channels.Send(ctx, out); err != nil {
		r.log.Error().Err(err).
			Str("channel", out.ChannelID).
			Str("to", out.To).
			Msg("failed to send reply")
	}
}

// Wire registers the router as the message handler on all channels.
// Messages are handled concurrently, bounded by MaxInFlight.
func (r *Router) Wire(ctx context.Context) {
	r.channels.Each(func(ch domain.Channel) {
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.pool.Go(func(context.Context) error {
				r.HandleInbound(ctx, msg)
				return nil
			})
		})
		r.log.Debug().Str("channel", ch.ID()).Msg("wired message handler")
	})
}

// Wait blocks until every in-flight message has been handled. The router
// accepts no new work afterwards.
func (r *Router) Wait() {
	_ = r.pool.Wait()
}

// replyTarget determines where to send the response.
func replyTarget(msg domain.InboundMessage) string {
	if msg.ChatType == domain.ChatTypeDM {
		return msg.From
	}
	return msg.ChatID
}
