package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/linkmesh/engine/internal/common/configtypes"
)

func fileConfig(path, level string) configtypes.LogConfig {
	return configtypes.LogConfig{
		Level:   level,
		Console: configtypes.ConsoleLogConfig{Enabled: false},
		File: configtypes.FileLogConfig{
			Enabled: true,
			Path:    path,
			Format:  configtypes.LogFormatJSON,
			Rotation: configtypes.RotationConfig{
				MaxSize:    10,
				MaxAge:     7,
				MaxBackups: 3,
			},
		},
	}
}

func TestNewLoggerConsoleOnly(t *testing.T) {
	logger, err := NewLogger(configtypes.LogConfig{
		Level:   "info",
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: "console"},
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("console logging works")
}

func TestNewLoggerFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gateway.log")
	logger, err := NewLogger(fileConfig(logPath, "debug"))
	require.NoError(t, err)

	logger.Info("file logging works", zap.String("key", "value"))
	logger.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "file logging works")
	assert.Contains(t, string(content), `"key"`)
}

func TestNewLoggerNoOutputsEnabled(t *testing.T) {
	_, err := NewLogger(configtypes.LogConfig{Level: "info"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one log output")
}

func TestNewLoggerFileEnabledNoPath(t *testing.T) {
	cfg := fileConfig("", "info")
	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file.path must be specified")
}

func TestGlobalLevelFiltersOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, err := NewLogger(fileConfig(logPath, "warn"))
	require.NoError(t, err)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "debug message")
	assert.NotContains(t, string(content), "info message")
	assert.Contains(t, string(content), "warn message")
}

func TestPerOutputLevelOverridesGlobal(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "override.log")
	cfg := fileConfig(logPath, "warn")
	cfg.File.Level = "debug"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Debug("debug message")
	logger.Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug message")
}

func TestResolveLogLevel(t *testing.T) {
	tests := []struct {
		name        string
		outputLevel string
		globalLevel zapcore.Level
		want        zapcore.Level
	}{
		{"explicit output level wins", "debug", zap.InfoLevel, zap.DebugLevel},
		{"explicit error level", "error", zap.InfoLevel, zap.ErrorLevel},
		{"empty falls back to global", "", zap.WarnLevel, zap.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveLogLevel(tt.outputLevel, tt.globalLevel))
		})
	}
}

func TestEnsureInfoLevelForShutdown(t *testing.T) {
	logger, err := NewLogger(configtypes.LogConfig{
		Level:   configtypes.LogLevelError,
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole},
	})
	require.NoError(t, err)
	assert.Equal(t, zap.ErrorLevel, logger.consoleLevel.Level())

	logger.EnsureInfoLevelForShutdown()
	assert.Equal(t, zap.InfoLevel, logger.consoleLevel.Level())

	// Debug is already more verbose than info; it must stay.
	debugLogger, err := NewLogger(configtypes.LogConfig{
		Level:   configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole},
	})
	require.NoError(t, err)
	debugLogger.EnsureInfoLevelForShutdown()
	assert.Equal(t, zap.DebugLevel, debugLogger.consoleLevel.Level())
}

func TestSwitchToConfiguredLevel(t *testing.T) {
	cfg := configtypes.LogConfig{
		Level:   configtypes.LogLevelError,
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole},
	}

	logger, err := NewLoggerWithStartupOverride(cfg)
	require.NoError(t, err)
	assert.Equal(t, zap.InfoLevel, logger.consoleLevel.Level(), "startup runs at info")

	logger.SwitchToConfiguredLevel()
	assert.Equal(t, zap.ErrorLevel, logger.consoleLevel.Level())
}
