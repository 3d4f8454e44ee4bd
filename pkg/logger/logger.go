package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/MatusOllah/slogcolor"
)

// New returns a structured logger. local and dev get colored, debug-level
// output on stderr; every other environment gets JSON on stdout.
// No business logic should depend on logging implementation details.
func New(appEnv string) *slog.Logger {
	if isLocal(appEnv) {
		return slog.New(newColorHandler(os.Stderr, slog.LevelDebug))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newColorHandler(w io.Writer, level slog.Level) slog.Handler {
	opts := *slogcolor.DefaultOptions
	opts.Level = level
	return slogcolor.NewHandler(w, &opts)
}

func isLocal(appEnv string) bool {
	return appEnv == "local" || appEnv == "dev"
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets the logger stored in ctx, or fallback when there is none.
func From(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
