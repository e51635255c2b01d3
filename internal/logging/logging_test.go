package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHandler_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("dropped")
	logger.Warn("kept", "tool", "base64")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "base64", line["tool"])
}

func TestNewHandler_PrettyForced(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(Config{Format: "pretty", Output: &buf})
	require.NoError(t, err)

	slog.New(h).Info("server started", "port", "8000")

	out := buf.String()
	assert.Contains(t, out, "server started")
	assert.Contains(t, out, "port=8000")
	assert.NotContains(t, out, "\033[", "colors are off when the output is not a terminal")
}

func TestNewHandler_BadLevel(t *testing.T) {
	h, err := NewHandler(Config{Level: "loud", Output: &bytes.Buffer{}})
	assert.Error(t, err)
	assert.NotNil(t, h)
}
