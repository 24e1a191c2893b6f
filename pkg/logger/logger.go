package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/goid"
)

type Logger = zap.Logger

var (
	baseLogger    = zap.NewNop()
	defaultFields = struct {
		Plugin string
	}{Plugin: "agent"}
	loggerInitOnce    sync.Once
	loggerInitialized bool
	mu                sync.RWMutex
)

// InitLogger 初始化全局日志：控制台 + 按天切分的 JSON 文件
func InitLogger(cfg *config.ZapLogConfig) (*Logger, error) {
	var err error
	loggerInitOnce.Do(func() {
		level := parseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0755); err != nil {
			return
		}

		maxAge := time.Duration(cfg.MaxAge) * 24 * time.Hour
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		maxSize := int64(cfg.MaxSize) * 1024 * 1024
		if maxSize <= 0 {
			maxSize = 100 * 1024 * 1024
		}
		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "agent-%Y%m%d.log"),
			rotatelogs.WithMaxAge(maxAge),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithRotationSize(maxSize),
		)
		if wErr != nil {
			err = wErr
			return
		}

		stdoutEncoder := consoleEncoder()
		if cfg.Format == "json" {
			stdoutEncoder = jsonEncoder()
		}

		core := zapcore.NewTee(
			zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(jsonEncoder(), zapcore.AddSync(writer), level),
		)

		mu.Lock()
		baseLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
		loggerInitialized = true
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return GetGlobalLogger(), nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func consoleEncoder() zapcore.Encoder {
	// 控制台彩色时间
	customTimeEncoderConsole := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
	}

	coloredLevelEncoder := func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var levelStr string
		switch level {
		case zapcore.DebugLevel:
			levelStr = "\033[36mDEBUG\033[0m"
		case zapcore.InfoLevel:
			levelStr = "\033[32mINFO \033[0m"
		case zapcore.WarnLevel:
			levelStr = "\033[33mWARN \033[0m"
		case zapcore.ErrorLevel:
			levelStr = "\033[31mERROR\033[0m"
		case zapcore.DPanicLevel:
			levelStr = "\033[35mDPANIC\033[0m"
		case zapcore.PanicLevel:
			levelStr = "\033[35mPANIC\033[0m"
		case zapcore.FatalLevel:
			levelStr = "\033[35mFATAL\033[0m"
		default:
			levelStr = "UNK  "
		}
		enc.AppendString(levelStr)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.ConsoleSeparator = " "
	encCfg.EncodeLevel = coloredLevelEncoder
	encCfg.EncodeTime = customTimeEncoderConsole
	// Caller 两级路径
	encCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func jsonEncoder() zapcore.Encoder {
	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(jsonCfg)
}

// SetDefaultPlugin 设置未显式指定插件时的默认 plugin 字段
func SetDefaultPlugin(plugin string) {
	mu.Lock()
	defer mu.Unlock()
	defaultFields.Plugin = plugin
}

func GetDefaultPlugin() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultFields.Plugin
}

func defaultFieldList(fields []zapcore.Field) []zapcore.Field {
	for _, f := range fields {
		if f.Key == "plugin" {
			return append(fields, zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)))
		}
	}
	return append(fields,
		zap.String("plugin", GetDefaultPlugin()),
		zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)),
	)
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	l := GetGlobalLogger().WithOptions(zap.AddCallerSkip(1))
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(defaultFieldList(fields)...)
	}
}

func Debug(msg string, fields ...zapcore.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zap.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zapcore.Field) { log(zap.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { log(zap.FatalLevel, msg, fields...) }

// Named 返回带 plugin 字段的子 logger
func Named(plugin string) *Logger {
	return GetGlobalLogger().WithOptions(zap.AddCallerSkip(-1)).With(zap.String("plugin", plugin))
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if !loggerInitialized {
		return nil
	}
	return baseLogger.Sync()
}

// GetGlobalLogger 未初始化时返回 Nop logger
func GetGlobalLogger() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}
