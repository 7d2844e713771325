// Package irc implements the IRC chat channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/version"
)

const (
	// ChannelID identifies IRC in session keys and outbound routing.
	ChannelID = "irc"

	// maxLineBytes keeps PRIVMSG lines well under the 512 byte IRC limit
	// once the prefix and target are added.
	maxLineBytes = 400

	// maxReplyLines caps how many lines a single reply may flood.
	maxReplyLines = 15
)

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

var _ domain.Channel = (*Channel)(nil)

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return ChannelID }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) gircConfig() girc.Config {
	port := c.cfg.Port
	if port == 0 {
		if c.cfg.UseTLS {
			port = 6697
		} else {
			port = 6667
		}
	}

	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    port,
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "Kassalapp Assistant",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gc.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Start connects to the IRC server and blocks until ctx is done or the
// connection ends.
func (c *Channel) Start(ctx context.Context) error {
	gc := c.gircConfig()
	client := girc.New(gc)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.registerHandlers()

	c.log.Info().
		Str("server", gc.Server).
		Int("port", gc.Port).
		Str("nick", gc.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", gc.SSL).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a reply to an IRC channel or nick. Markdown bold becomes
// IRC bold and the body is split into lines the server will accept.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}
	if msg.To == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := replyLines(msg.Body)
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		client.Cmd.Message(msg.To, line)
	}

	c.log.Debug().
		Str("to", msg.To).
		Int("lines", len(lines)).
		Msg("sent IRC message")
	return nil
}

func (c *Channel) registerHandlers() {
	c.client.Handlers.Add(girc.CONNECTED, c.onConnected)
	c.client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	c.client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}
	c.handleText(client.GetNick(), e.Source.Name, e.Params[0], e.IsFromChannel(), body)
}

// handleText decides whether a PRIVMSG is meant for the assistant and
// delivers it. Channel messages must address the bot by nick; direct
// messages are accepted when AllowDMs is set.
func (c *Channel) handleText(self, from, target string, inChannel bool, body string) {
	if strings.EqualFold(from, self) {
		return
	}

	if !inChannel {
		if !c.cfg.AllowDMs {
			c.log.Debug().Str("nick", from).Msg("ignoring direct message")
			return
		}
		c.deliverInbound(from, from, domain.ChatTypeDM, strings.TrimSpace(body))
		return
	}

	text, ok := addressedBody(body, self)
	if !ok {
		return
	}
	c.deliverInbound(from, target, domain.ChatTypeGroup, text)
}

func (c *Channel) deliverInbound(from, chatID string, chatType domain.ChatType, body string) {
	if body == "" {
		return
	}
	msg := domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: ChannelID,
		From:      from,
		ChatID:    chatID,
		ChatType:  chatType,
		Body:      body,
		Timestamp: time.Now(),
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

// addressedBody reports whether body is addressed to nick and returns the
// text with the address removed. "nick: text", "nick, text" and
// "@nick text" are stripped; a bare mention elsewhere keeps the whole line.
func addressedBody(body, nick string) (string, bool) {
	if nick == "" {
		return "", false
	}
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	n := strings.ToLower(nick)

	for _, prefix := range []string{n + ":", n + ",", "@" + n} {
		if strings.HasPrefix(lower, prefix) && !isNickByte(lower, len(prefix)) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	if mentions(lower, n) {
		return trimmed, true
	}
	return "", false
}

// mentions reports whether nick occurs in text as a whole word.
func mentions(text, nick string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], nick)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(nick)
		if !isNickByte(text, start-1) && !isNickByte(text, end) {
			return true
		}
		i = start + 1
	}
}

func isNickByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	b := s[i]
	return b == '_' || b == '-' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z'
}

var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)

// replyLines formats a reply for IRC: markdown bold becomes IRC bold,
// blank lines are dropped, long lines are split on rune boundaries and the
// total is capped at maxReplyLines.
func replyLines(body string) []string {
	body = boldRe.ReplaceAllString(body, "\x02$1\x02")
	lines := splitMessage(body, maxLineBytes)
	if len(lines) > maxReplyLines {
		lines = append(lines[:maxReplyLines-1], "(reply truncated)")
	}
	return lines
}

// splitMessage breaks text into non-empty lines of at most maxLen bytes.
// IRC PRIVMSG cannot carry newlines, and splits never cut a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			if sp := strings.LastIndexByte(line[:cut], ' '); sp > maxLen/2 {
				cut = sp
			}
			chunks = append(chunks, strings.TrimRight(line[:cut], " "))
			line = strings.TrimLeft(line[cut:], " ")
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
