// Package logger wraps zap with a small structured-field API so the
// rest of the codebase never imports zap directly.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interface is the logging surface the services depend on.
type Interface interface {
	Debug(message string, fields ...Field)
	Info(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Error(err error, fields ...Field)
	With(fields ...Field) *Logger
	Sync() error
}

// Logger is a wrapper around zap.Logger.
type Logger struct {
	logger *zap.Logger
}

// Field holds one key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// NewField returns a Field with the given key and value.
func NewField(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Level is the minimum severity written out.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a production logger at the given level.
func New(level Level) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.EncoderConfig.MessageKey = "message"
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger: l}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{logger: zap.NewNop()}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.logger.Sync() }

// With returns a child logger carrying extra fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{logger: l.logger.With(convert(fields)...)}
}

// Debug writes at debug severity.
func (l *Logger) Debug(message string, fields ...Field) {
	l.logger.Debug(message, convert(fields)...)
}

// Info writes at info severity.
func (l *Logger) Info(message string, fields ...Field) {
	l.logger.Info(message, convert(fields)...)
}

// Warn writes at warn severity.
func (l *Logger) Warn(message string, fields ...Field) {
	l.logger.Warn(message, convert(fields)...)
}

// Error writes the error's message at error severity.
func (l *Logger) Error(err error, fields ...Field) {
	l.logger.Error(err.Error(), convert(fields)...)
}

func convert(fields []Field) []zapcore.Field {
	out := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
