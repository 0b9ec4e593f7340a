package middleware

import "net/http"

// NoStore marks responses as uncacheable. Cart and order views are live
// mirrors, so a cached copy is stale by definition.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
