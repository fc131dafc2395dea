package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerWithWriter("info", "text", &buf)
	require.NoError(t, err)

	logger.With("component", "sched").Info("cpu online", "cpu", 1)

	out := buf.String()
	assert.Contains(t, out, "cpu online")
	assert.Contains(t, out, "component=sched")
	assert.Contains(t, out, "cpu=1")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerWithWriter("debug", "JSON", &buf)
	require.NoError(t, err)

	logger.Debug("task released", "task", 7)

	assert.Contains(t, buf.String(), `"msg":"task released"`)
	assert.Contains(t, buf.String(), `"task":7`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerWithWriter("warn", "text", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownSettings(t *testing.T) {
	_, err := NewLoggerWithWriter("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = NewLoggerWithWriter("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	} {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
