package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/queryctl/queryctl/internal/config"
)

type ctxKey string

const invocationIDKey ctxKey = "invocation_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithInvocationID(ctx context.Context, invocationID string) context.Context {
	return context.WithValue(ctx, invocationIDKey, invocationID)
}

func InvocationIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(invocationIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
