package logger

// Logger is the minimal structured logging contract the engine emits to.
// Keyvals are alternating key/value pairs, keys being strings.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
