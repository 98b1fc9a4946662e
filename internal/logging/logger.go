// Package logging configures log/slog for the service and the CLI.
//
// Loggers taken from a context carry the chi request ID and any attributes
// attached with WithAttrs, so a request and the import stages it starts
// log under the same keys.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type attrsKey struct{}

// New returns a logger writing text or json records at the given level.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs the default logger on stdout.
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter installs the default logger on w. The CLI passes stderr so
// that reports on stdout stay machine-readable.
func SetupWriter(w io.Writer, level, format string) {
	slog.SetDefault(New(w, level, format))
}

// ParseLevel accepts the slog level names in any case, plus "warning".
// Unknown names mean info.
func ParseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithAttrs returns a context whose loggers include args.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(append(merged, prev...), args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// FromContext returns the default logger with the request ID and context
// attributes of ctx.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := middleware.GetReqID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if args, ok := ctx.Value(attrsKey{}).([]any); ok {
		logger = logger.With(args...)
	}
	return logger
}

// WithFields is FromContext plus args.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// ForSession returns a logger tagged with the import session and stage.
func ForSession(ctx context.Context, sessionID, stage string) *slog.Logger {
	return FromContext(ctx).With("session_id", sessionID, "stage", stage)
}
