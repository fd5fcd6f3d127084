// Package logger defines the logging surface used across the SDK. The
// default everywhere is NoopLogger; callers opt into the zap implementation
// or supply their own.
package logger

// Fields attaches structured context to a log line.
type Fields = map[string]any

type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, Fields) {}
func (NoopLogger) Info(string, Fields)  {}
func (NoopLogger) Warn(string, Fields)  {}
func (NoopLogger) Error(string, Fields) {}
