package logger_test

import (
	"testing"

	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// mockFatalHook 捕获 fatal 日志（不退出进程）
type mockFatalHook struct {
	called bool
}

func (h *mockFatalHook) Hook(e zapcore.Entry) error {
	if e.Level == zapcore.FatalLevel {
		h.called = true
	}
	return nil
}

func TestLoggerLevels(t *testing.T) {
	cfg := &config.ZapLogConfig{
		Level:   "debug",
		Format:  "console",
		Path:    t.TempDir(),
		MaxSize: 1,
		MaxAge:  1,
	}

	l, err := logger.InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l)

	// 普通日志
	logger.Debug("debug msg")
	logger.Info("info msg", zap.String("plugin", "cpu"))
	logger.Warn("warn msg")
	logger.Error("error msg")
	logger.Named("disk").Info("named msg")

	logger.SetDefaultPlugin("scheduler")
	assert.Equal(t, "scheduler", logger.GetDefaultPlugin())

	// Panic 测试
	assert.Panics(t, func() { logger.Panic("panic msg") })

	// Fatal 测试（使用 zap.Hooks，不触发 os.Exit）
	hook := &mockFatalHook{}
	fl := logger.GetGlobalLogger().WithOptions(
		zap.Hooks(hook.Hook),
		zap.WithFatalHook(zapcore.WriteThenNoop),
	)
	fl.Fatal("fatal msg")
	assert.True(t, hook.called, "fatal hook was not triggered")

	_ = logger.Sync()
}
