package observability

import (
	"io"
	"log/slog"
)

// Alert logs an operator-facing, high-severity line.
func Alert(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, append([]any{"alert", true}, args...)...)
}

// DiscardLogger returns a logger that drops everything. Intended for tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
