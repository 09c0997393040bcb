package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/rshuffle/types"
)

func TestSlogLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewText(buf, slog.LevelDebug)

	logger.Debug("debug message", "shuffle_id", 5)
	logger.Info("info message", "server_id", "s1")
	logger.Warn("warn message", "partition_id", 3)
	logger.Error("error message", "cause", "reset")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "shuffle_id=5")
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "server_id=s1")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "partition_id=3")
	assert.Contains(t, output, "level=ERROR")
	assert.Contains(t, output, "cause=reset")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewText(buf, slog.LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestSlogLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewText(buf, slog.LevelInfo).With("task_attempt_id", 42)

	logger.Info("block sent")

	require.Contains(t, buf.String(), "task_attempt_id=42")
}

func TestNewSlogDefault(t *testing.T) {
	require.NotNil(t, NewSlogDefault().logger)
}

func TestNopLogger(t *testing.T) {
	var logger types.Logger = NewNop()

	require.NotPanics(t, func() {
		logger.Debug("test message", "key", "value")
		logger.Info("test message", "key", "value")
		logger.Warn("test message")
		logger.Error("test message", "key")
		logger.Fatal("test message", "key", "value") // must not exit
	})
}
