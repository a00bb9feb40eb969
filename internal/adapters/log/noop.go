package log

import "github.com/pulselabs/pulseclient/internal/ports"

// NoopLogger discards all log messages. It is the default when no logger
// option is provided.
type NoopLogger struct{}

// NewNoopLogger creates a no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (NoopLogger) Debug(msg string, fields ...ports.Field) {}
func (NoopLogger) Info(msg string, fields ...ports.Field)  {}
func (NoopLogger) Warn(msg string, fields ...ports.Field)  {}
func (NoopLogger) Error(msg string, fields ...ports.Field) {}
