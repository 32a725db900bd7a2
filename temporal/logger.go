package temporal

import (
	"log/slog"

	"go.temporal.io/sdk/log"
)

// Logger adapts slog to the Temporal SDK logger interface.
type Logger struct {
	logger *slog.Logger
}

var _ log.Logger = (*Logger)(nil)

func NewLogger(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.logger.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.logger.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.logger.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.logger.Error(msg, keyvals...) }

// With returns a logger carrying keyvals on every record.
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{logger: l.logger.With(keyvals...)}
}
