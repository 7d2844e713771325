package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Msg("price lookup")
	assert.Contains(t, buf.String(), "price lookup")
}

func TestNewDefaultWriter(t *testing.T) {
	log := New(nil, "info")
	require.NotNil(t, log)
}

func TestSub(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")

	log.Sub("tools").Sub("kassalapp").Info().Msg("request sent")
	output := buf.String()
	assert.Contains(t, output, "request sent")
	assert.Contains(t, output, "kassalapp")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").With("session", "s-1")

	log.Info().Msg("turn")
	assert.Contains(t, buf.String(), `"session":"s-1"`)
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String(), "debug and info should be filtered at warn level")

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNewWithOptions_JSONStyle(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewWithOptions(&buf, Options{Level: "info", Style: "json"})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Str("tool", "search_products").Msg("dispatch")
	assert.Contains(t, buf.String(), `"tool":"search_products"`)
}

func TestNewWithOptions_CompactStyle(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewWithOptions(&buf, Options{Level: "info", Style: "compact"})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("compact line")
	out := buf.String()
	assert.Contains(t, out, "compact line")
	assert.NotContains(t, out, "\x1b[", "compact style must not colorize")
}

func TestNewWithOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kassa.log")

	var buf bytes.Buffer
	log, closer, err := NewWithOptions(&buf, Options{Level: "debug", Style: "json", File: path})
	require.NoError(t, err)

	log.Debug().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Info().Msg("should not appear")
	log.Error().Msg("should not appear")

	assert.Empty(t, buf.String())
}
