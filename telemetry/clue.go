package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// ClueLogger delegates to goa.design/clue/log. Formatting and debug level are
// controlled by the context (set via log.Context/log.WithFormat/log.WithDebug
// at process startup); the orchestration core never configures those itself.
type ClueLogger struct{}

// NewClueLogger constructs a Logger backed by clue. Call log.Context once at
// process startup before using the returned logger.
func NewClueLogger() Logger { return ClueLogger{} }

// Debug emits a debug-level record.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info emits an info-level record.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn emits an info-level record tagged with severity=warning.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append(fielders(msg, keyvals), log.KV{K: "severity", V: "warning"})...)
}

// Error emits an error-level record.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

// fielders converts a message plus variadic key/value pairs into clue
// Fielders. An odd trailing key is paired with a nil value rather than
// dropped, so callers never lose a field from an off-by-one bug.
func fielders(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, len(keyvals)/2+1)
	out = append(out, log.KV{K: "msg", V: msg})
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		out = append(out, log.KV{K: key, V: keyvals[i+1]})
	}
	if len(keyvals)%2 == 1 {
		key, _ := keyvals[len(keyvals)-1].(string)
		out = append(out, log.KV{K: key, V: nil})
	}
	return out
}
