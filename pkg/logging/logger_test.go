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
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithSessionAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("debug", &buf).WithSession("abc").WithComponent("pipeline")
	logger.Info("turn processed", "layer", "L2")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "abc", record["session_id"])
	assert.Equal(t, "pipeline", record["component"])
	assert.Equal(t, "L2", record["layer"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf)
	logger.Debug("hidden")
	assert.Zero(t, buf.Len())
}
