package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of a zap sugared logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// Compile-time assertion: *ZapLogger implements Logger.
var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a JSON logger at the given level, or a human-readable
// console logger when development is true. Accepted levels: debug, info,
// warn, error. Unknown levels fall back to info.
func NewZapLogger(level string, development bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return &ZapLogger{sugar: logger.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) must() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}

	return l.sugar
}

func (l *ZapLogger) Debugf(format string, args ...any) { l.must().Debugf(format, args...) }

func (l *ZapLogger) Infof(format string, args ...any) { l.must().Infof(format, args...) }

func (l *ZapLogger) Warnf(format string, args ...any) { l.must().Warnf(format, args...) }

func (l *ZapLogger) Errorf(format string, args ...any) { l.must().Errorf(format, args...) }

// With returns a child logger with additional structured context.
//
//nolint:ireturn
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{sugar: l.must().With(args...)}
}

// Sync flushes buffered entries. Safe to call on shutdown paths.
func (l *ZapLogger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}

	return l.sugar.Sync()
}
