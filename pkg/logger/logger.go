package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Service is attached to every record so logs from the API and the migrate command can be told apart.
const Service = "crm-telephony"

// New returns a JSON logger writing to stdout.
// local and dev log at debug; everything else at info.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(appEnv)})
	return slog.New(h).With("service", Service, "env", appEnv)
}

func levelFor(appEnv string) slog.Level {
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
