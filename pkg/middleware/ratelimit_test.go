package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

func limitedHandler(t *testing.T, rps float64, burst int) (*AttemptLimiter, http.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := NewAttemptLimiter(ctx, rps, burst, logger.Discard())
	return l, l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func signinFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/signin", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAttemptLimiter_BurstThenRejects(t *testing.T) {
	l, h := limitedHandler(t, 1, 3)
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, signinFrom(h, "10.0.0.1:5000").Code, "attempt %d", i+1)
	}

	rec := signinFrom(h, "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAttemptLimiter_RefillsOverTime(t *testing.T) {
	l, h := limitedHandler(t, 1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.Equal(t, http.StatusOK, signinFrom(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, signinFrom(h, "10.0.0.1:5000").Code)

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, signinFrom(h, "10.0.0.1:5000").Code)
}

func TestAttemptLimiter_ClientsAreIndependent(t *testing.T) {
	l, h := limitedHandler(t, 1, 1)
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	assert.Equal(t, http.StatusOK, signinFrom(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, signinFrom(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, signinFrom(h, "10.0.0.2:5000").Code)
}

func TestAttemptLimiter_EvictsIdleClients(t *testing.T) {
	l, h := limitedHandler(t, 1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	signinFrom(h, "10.0.0.1:5000")
	now = now.Add(limiterIdleTTL + time.Second)
	l.evict()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.clients)
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4312"
	assert.Equal(t, "192.0.2.10", clientAddr(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientAddr(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientAddr(req))
}
