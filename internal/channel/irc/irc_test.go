package irc

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func recorder(ch *Channel) *[]domain.InboundMessage {
	var got []domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { got = append(got, msg) })
	return &got
}

func TestStatus_NotStarted(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	status := ch.Status()

	assert.Equal(t, ChannelID, ch.ID())
	assert.Equal(t, ChannelID, status.ChannelID)
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	err := ch.Send(context.Background(), domain.OutboundMessage{To: "#mat", Body: "hei"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestGircConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.IRCConfig
		port     int
		sasl     bool
		passSent string
	}{
		{"tls default port", config.IRCConfig{Server: "irc.libera.chat", Nick: "kassa", UseTLS: true}, 6697, false, ""},
		{"plain default port", config.IRCConfig{Server: "irc.test", Nick: "kassa"}, 6667, false, ""},
		{"explicit port", config.IRCConfig{Server: "irc.test", Nick: "kassa", Port: 7000}, 7000, false, ""},
		{"sasl", config.IRCConfig{Server: "irc.test", Nick: "kassa", Password: "pw", SASL: true}, 6667, true, ""},
		{"server pass", config.IRCConfig{Server: "irc.test", Nick: "kassa", Password: "pw"}, 6667, false, "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc := New(tt.cfg, testLogger()).gircConfig()
			assert.Equal(t, tt.port, gc.Port)
			assert.Equal(t, tt.sasl, gc.SASL != nil)
			assert.Equal(t, tt.passSent, gc.ServerPass)
			assert.Equal(t, tt.cfg.UseTLS, gc.TLSConfig != nil)
		})
	}
}

func TestAddressedBody(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{"kassa: hva koster melk?", "hva koster melk?", true},
		{"Kassa, cheapest Grandiosa", "cheapest Grandiosa", true},
		{"@kassa pepsi max at kiwi", "pepsi max at kiwi", true},
		{"ask kassa about prices", "ask kassa about prices", true},
		{"kassabot: hello", "", false},
		{"@kassabot hello", "", false},
		{"the kassalapp app is nice", "", false},
		{"no mention here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := addressedBody(tt.body, "kassa")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleText_Channel(t *testing.T) {
	ch := New(config.IRCConfig{Nick: "kassa"}, testLogger())
	got := recorder(ch)

	ch.handleText("kassa", "ola", "#mat", true, "kassa: price of melk")
	ch.handleText("kassa", "ola", "#mat", true, "just chatting")
	ch.handleText("kassa", "kassa", "#mat", true, "kassa: talking to myself")
	ch.handleText("kassa", "ola", "#mat", true, "kassa:   ")

	require.Len(t, *got, 1)
	msg := (*got)[0]
	assert.Equal(t, ChannelID, msg.ChannelID)
	assert.Equal(t, "ola", msg.From)
	assert.Equal(t, "#mat", msg.ChatID)
	assert.Equal(t, domain.ChatTypeGroup, msg.ChatType)
	assert.Equal(t, "price of melk", msg.Body)
	assert.NotEmpty(t, msg.ID)
}

func TestHandleText_DirectMessages(t *testing.T) {
	closed := New(config.IRCConfig{Nick: "kassa"}, testLogger())
	got := recorder(closed)
	closed.handleText("kassa", "ola", "kassa", false, "hei")
	assert.Empty(t, *got)

	open := New(config.IRCConfig{Nick: "kassa", AllowDMs: true}, testLogger())
	got = recorder(open)
	open.handleText("kassa", "ola", "kassa", false, " hei ")
	require.Len(t, *got, 1)
	assert.Equal(t, "ola", (*got)[0].ChatID)
	assert.Equal(t, domain.ChatTypeDM, (*got)[0].ChatType)
	assert.Equal(t, "hei", (*got)[0].Body)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))
	assert.Equal(t,
		[]string{"**Cheapest:**", "- Kiwi: 24.50 kr"},
		splitMessage("**Cheapest:**\n\n- Kiwi: 24.50 kr\n", 400))
}

func TestSplitMessage_LongLinePrefersSpaces(t *testing.T) {
	result := splitMessage("aaaa bbbb cccc dddd", 10)
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd"}, result)
}

func TestSplitMessage_RuneSafe(t *testing.T) {
	text := strings.Repeat("æøå", 20) // 2 bytes per rune, no spaces
	result := splitMessage(text, 7)
	require.Greater(t, len(result), 1)
	for _, chunk := range result {
		assert.True(t, utf8.ValidString(chunk), "chunk %q", chunk)
		assert.LessOrEqual(t, len(chunk), 7)
	}
	assert.Equal(t, text, strings.Join(result, ""))
}

func TestReplyLines(t *testing.T) {
	lines := replyLines("**Tine Lettmelk** costs 24.50 kr")
	assert.Equal(t, []string{"\x02Tine Lettmelk\x02 costs 24.50 kr"}, lines)

	long := strings.Repeat("line\n", 40)
	lines = replyLines(long)
	assert.Len(t, lines, maxReplyLines)
	assert.Equal(t, "(reply truncated)", lines[len(lines)-1])
}
