// Package logger carries a request-scoped slog.Logger in a context.
package logger

import (
	"context"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey struct{}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Middleware puts slogger in every request context, tagged with the chi
// request id when one is set.
func Middleware(slogger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := slogger
			if id := chiMiddleware.GetReqID(r.Context()); id != "" {
				l = l.With("requestId", id)
			}
			next.ServeHTTP(w, r.WithContext(AddToContext(r.Context(), l)))
		})
	}
}
