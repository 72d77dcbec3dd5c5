// Package logging adapts zap to the backup.Logger interface used across
// the daemon.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ankibak-go/internal/backup"
)

// zapLogger wraps a *zap.SugaredLogger and implements backup.Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

var _ backup.Logger = (*zapLogger)(nil)

func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// globalSugar holds the SugaredLogger so Cleanup can flush it at exit.
var globalSugar *zap.SugaredLogger

// Init creates the process logger. debug lowers the level to include
// Debug output. Call once at startup.
func Init(debug bool) (backup.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	zapLog, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	sugar := zapLog.Sugar()
	globalSugar = sugar
	return &zapLogger{sugar: sugar}, nil
}

// Cleanup flushes any buffered log entries. Call at program exit.
func Cleanup() {
	if globalSugar != nil {
		_ = globalSugar.Sync()
	}
}
