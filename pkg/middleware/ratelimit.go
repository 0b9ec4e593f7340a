package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type attempt struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AttemptLimiter throttles requests per client address. It guards the
// credential endpoints against password guessing.
type AttemptLimiter struct {
	mu      sync.Mutex
	clients map[string]*attempt
	limit   rate.Limit
	burst   int
	now     func() time.Time
	logger  *slog.Logger
}

// NewAttemptLimiter allows rps sustained requests per client with bursts up
// to burst. Idle clients are forgotten until ctx is done.
func NewAttemptLimiter(ctx context.Context, rps float64, burst int, logger *slog.Logger) *AttemptLimiter {
	l := &AttemptLimiter{
		clients: make(map[string]*attempt),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		logger:  logger,
	}
	go l.evictLoop(ctx)
	return l
}

func (l *AttemptLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, ok := l.clients[client]
	if !ok {
		a = &attempt{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = a
	}
	a.lastSeen = now
	return a.limiter.AllowN(now, 1)
}

func (l *AttemptLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *AttemptLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-limiterIdleTTL)
	for client, a := range l.clients {
		if a.lastSeen.Before(cutoff) {
			delete(l.clients, client)
		}
	}
}

// Middleware answers 429 once a client exceeds its allowance.
func (l *AttemptLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !l.allow(client) {
			l.logger.WarnContext(r.Context(), "attempt limit exceeded",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "RATE_LIMITED",
					"message": "too many attempts, try again later",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote host.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
