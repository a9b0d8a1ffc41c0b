package application

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger creates the process logger: JSON lines at the given level.
// When the stdio transport owns stdout, log output goes to stderr instead.
func BuildLogger(level string, stdio bool) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	output := "stdout"
	if stdio {
		output = "stderr"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// StructuredLogger provides structured logging with a context map.
// Each context entry becomes a zap field; keys are emitted in sorted order.
type StructuredLogger struct {
	logger *zap.Logger
}

// NewStructuredLogger wraps a zap logger. A nil logger discards everything.
func NewStructuredLogger(logger *zap.Logger) *StructuredLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredLogger{logger: logger}
}

// Zap returns the underlying zap logger.
func (l *StructuredLogger) Zap() *zap.Logger {
	return l.logger
}

// LogDebug logs a debug message with context.
func (l *StructuredLogger) LogDebug(message string, context map[string]interface{}) {
	l.logger.Debug(message, fields(context)...)
}

// LogInfo logs an informational message with context.
func (l *StructuredLogger) LogInfo(message string, context map[string]interface{}) {
	l.logger.Info(message, fields(context)...)
}

// LogWarn logs a warning with context.
func (l *StructuredLogger) LogWarn(message string, context map[string]interface{}) {
	l.logger.Warn(message, fields(context)...)
}

// LogError logs an error message with context.
func (l *StructuredLogger) LogError(message string, err error, context map[string]interface{}) {
	fs := fields(context)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	l.logger.Error(message, fs...)
}

// fields converts a context map to zap fields.
func fields(context map[string]interface{}) []zap.Field {
	if len(context) == 0 {
		return nil
	}

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, context[k]))
	}
	return out
}
