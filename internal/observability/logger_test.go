// File: internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/toolforge/internal/config"
	"go.uber.org/zap/zapcore"
)

// syncBuffer adapts strings.Builder to zapcore.WriteSyncer for capturing output.
type syncBuffer struct {
	strings.Builder
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	var buf syncBuffer

	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "TestService",
		Colors: config.ColorConfig{
			Info: "green",
		},
	}
	Initialize(cfg, zapcore.Lock(&buf))

	logger := GetLogger()
	logger.Info("This is a test message.")
	require.NoError(t, logger.Sync())

	output := buf.String()
	assert.Contains(t, output, "INFO", "Output should contain the log level")
	assert.Contains(t, output, "This is a test message.", "Output should contain the message")
	assert.Contains(t, output, colorGreen, "Info level should be colorized green")
	assert.Contains(t, output, colorReset, "Output should contain the reset color code")
	assert.Contains(t, output, "TestService.", "Output should contain the named service prefix")
}

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	var buf syncBuffer

	cfg := config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "JSONTest",
	}
	Initialize(cfg, zapcore.Lock(&buf))

	logger := GetLogger()
	logger.Info("structured message")
	require.NoError(t, logger.Sync())

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "structured message", entry["msg"])
}

func TestLevelFiltering(t *testing.T) {
	ResetForTest()
	var buf syncBuffer

	Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "filter"}, zapcore.Lock(&buf))

	logger := GetLogger()
	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")
	require.NoError(t, logger.Sync())

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "visible")
}

func TestGetLoggerBeforeInitializeFallsBack(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
}

func TestInitializeOnlyRunsOnce(t *testing.T) {
	ResetForTest()
	var first, second syncBuffer

	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "once"}, zapcore.Lock(&first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "twice"}, zapcore.Lock(&second))

	GetLogger().Info("routed to first")
	require.NoError(t, GetLogger().Sync())

	assert.Contains(t, first.String(), "routed to first")
	assert.Empty(t, second.String())
}
