// Package logger provides the structured logging facade used by the x608
// settlement core. Engines log through the Logger interface so callers can
// plug in zap, a test recorder, or nothing at all.
package logger

// Logger is a minimal leveled, structured logging interface.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards all log output. It is the default for every engine.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
