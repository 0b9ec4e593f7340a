package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

type identityKey struct{}

// IdentitySource reports the identity currently signed in, if any.
type IdentitySource func() (id string, ok bool)

// RequireIdentity rejects requests with 401 unless src reports a signed-in
// identity, and stores that identity in the request context.
func RequireIdentity(src IdentitySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := src()
			if !ok || id == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":    "UNAUTHORIZED",
						"message": "sign in required",
					},
				})
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			ctx = logger.WithIdentityID(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireIdentity.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}
