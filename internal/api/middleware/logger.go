package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"trucash/internal/pkg/identity"

	"github.com/go-chi/chi/v5/middleware"
)

// StructuredLogger logs one line per request. The auth middleware runs
// further in, so the actor reaches the log line through a holder.
func StructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			holder := &actorHolder{}
			r = r.WithContext(withActorHolder(r.Context(), holder))
			t1 := time.Now()
			defer func() {
				attrs := []any{
					"proto", r.Proto,
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent(),
					"status", ww.Status(),
					"latency_ms", float64(time.Since(t1).Nanoseconds()) / 1000000.0,
					"bytes_written", ww.BytesWritten(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				if holder.set {
					attrs = append(attrs, "user_id", holder.actor.UserID, "role", string(holder.actor.Role))
				}
				level := slog.LevelInfo
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "Served request", attrs...)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

type actorHolder struct {
	actor identity.Actor
	set   bool
}

type actorHolderKey struct{}

func withActorHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, actorHolderKey{}, h)
}

// noteActor exposes the authenticated actor to StructuredLogger.
func noteActor(ctx context.Context, a identity.Actor) {
	if h, ok := ctx.Value(actorHolderKey{}).(*actorHolder); ok {
		h.actor, h.set = a, true
	}
}
