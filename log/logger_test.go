package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerWithWriter_LevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(buf, InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Str("addr", "127.0.0.1:26950").Int("bufferSize", 4096).Msg("tcp connected")
	logger.Warn().Msg("careful")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "tcp connected", lines[0]["message"])
	assert.Equal(t, "127.0.0.1:26950", lines[0]["addr"])
	assert.EqualValues(t, 4096, lines[0]["bufferSize"])
	assert.Equal(t, "warn", lines[1]["level"])
}

func TestLoggerWith(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLoggerWithWriter(buf, DebugLevel).With("session", "abc")

	logger.Debug().Msg("hello")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "abc", lines[0]["session"])
}

func TestLogCfgValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogCfg
		wantErr bool
	}{
		{name: "defaults", cfg: LogCfg{}},
		{name: "valid level", cfg: LogCfg{LogLevel: "warn"}},
		{name: "bad level", cfg: LogCfg{LogLevel: "loud"}, wantErr: true},
		{name: "file without path", cfg: LogCfg{FileAppender: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileAppenderAndHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")
	logger := NewLogger(&LogCfg{LogPath: path, LogLevel: "info", FileAppender: true})
	defer logger.Close()

	logger.Debug().Msg("debug before reload")
	logger.Info().Msg("info before reload")

	require.NoError(t, logger.OnConfigChanged("logger", &LogCfg{LogPath: path, LogLevel: "debug", FileAppender: true}, nil))
	logger.Debug().Msg("debug after reload")

	// other config names are ignored
	require.NoError(t, logger.OnConfigChanged("client", &LogCfg{LogLevel: "error"}, nil))
	assert.Equal(t, "debug", logger.GetCurrentConfig().LogLevel)

	require.NoError(t, logger.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "debug before reload")
	assert.Contains(t, content, "info before reload")
	assert.Contains(t, content, "debug after reload")
}

func TestDefaultLogger(t *testing.T) {
	old := Default()
	defer SetDefaultLogger(old)

	buf := &bytes.Buffer{}
	SetDefaultLogger(NewLoggerWithWriter(buf, DebugLevel))
	Info().Msg("through package level")

	assert.Contains(t, buf.String(), "through package level")

	SetDefaultLogger(nil)
	assert.NotNil(t, Default())
}
