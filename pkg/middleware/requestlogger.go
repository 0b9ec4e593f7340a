package middleware

import (
	"log/slog"
	"net/http"

	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

// RequestLogger stores a request-scoped logger carrying correlation_id,
// identity_id, trace_id and span_id in the context. Mount it after
// RequestLogging and Tracing so those values are already present.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := IdentityFromContext(ctx); id != "" && logger.IdentityIDFromContext(ctx) == "" {
				ctx = logger.WithIdentityID(ctx, id)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
